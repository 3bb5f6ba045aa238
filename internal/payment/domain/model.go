package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusOpen          PaymentStatus = "open"
	PaymentStatusPaid          PaymentStatus = "paid"
	PaymentStatusCanceled      PaymentStatus = "canceled"
	PaymentStatusPendingReview PaymentStatus = "pending_review"
)

type PaymentSource string

const (
	PaymentSourceCycle  PaymentSource = "cycle"
	PaymentSourceManual PaymentSource = "manual"
)

// ReferenceLayout formats the billing period a payment covers.
const ReferenceLayout = "2006-01"

var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusOpen:          {PaymentStatusPaid, PaymentStatusCanceled, PaymentStatusPendingReview},
	PaymentStatusPendingReview: {PaymentStatusPaid, PaymentStatusCanceled, PaymentStatusOpen},
}

// Payment is an invoice owed by a client. Status changes only through the
// lifecycle operations of the payment service.
type Payment struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	ClientID       snowflake.ID    `gorm:"not null;index" json:"client_id"`
	SubscriptionID *snowflake.ID   `gorm:"index" json:"subscription_id,omitempty"`
	Amount         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Status         PaymentStatus   `gorm:"type:text;not null;index" json:"status"`
	DueDate        time.Time       `gorm:"not null" json:"due_date"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	Reference      string          `gorm:"type:text;not null;index" json:"reference"`
	Description    string          `gorm:"type:text" json:"description"`
	Source         PaymentSource   `gorm:"type:text;not null" json:"source"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) TransitionTo(next PaymentStatus, now time.Time) error {
	for _, allowed := range transitions[p.Status] {
		if allowed != next {
			continue
		}
		p.Status = next
		p.UpdatedAt = now
		if next == PaymentStatusPaid {
			p.PaidAt = &now
		}
		return nil
	}
	return ErrInvalidStateTransition
}
