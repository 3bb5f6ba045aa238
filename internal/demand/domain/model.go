// Package domain holds the demand state machine.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type DemandStatus string

const (
	DemandStatusPending    DemandStatus = "pending"
	DemandStatusInProgress DemandStatus = "in_progress"
	DemandStatusInApproval DemandStatus = "in_approval"
	DemandStatusCompleted  DemandStatus = "completed"
	DemandStatusCanceled   DemandStatus = "canceled"
)

var transitions = map[DemandStatus][]DemandStatus{
	DemandStatusPending:    {DemandStatusInProgress, DemandStatusCanceled},
	DemandStatusInProgress: {DemandStatusInApproval, DemandStatusCanceled},
	DemandStatusInApproval: {DemandStatusCompleted, DemandStatusCanceled},
}

// Demand is a unit of billable support work on a domain.
// Value, OverageValue and OverageHours are written once, when Billed flips to true.
type Demand struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	DomainID       snowflake.ID    `gorm:"not null;index" json:"domain_id"`
	ClientID       snowflake.ID    `gorm:"not null;index" json:"client_id"`
	SubscriptionID *snowflake.ID   `gorm:"index" json:"subscription_id,omitempty"`
	TicketID       *snowflake.ID   `gorm:"index" json:"ticket_id,omitempty"`
	Title          string          `gorm:"type:text;not null" json:"title"`
	Description    string          `gorm:"type:text" json:"description"`
	Status         DemandStatus    `gorm:"type:text;not null;index" json:"status"`
	Hours          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"hours"`
	Value          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"value"`
	OverageValue   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"overage_value"`
	OverageHours   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"overage_hours"`
	Billed         bool            `gorm:"not null;default:false;index" json:"billed"`
	BilledAt       *time.Time      `json:"billed_at,omitempty"`
	PaymentID      *snowflake.ID   `gorm:"index" json:"payment_id,omitempty"`
	InvoicedAt     *time.Time      `json:"invoiced_at,omitempty"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

func (Demand) TableName() string { return "demands" }

// NewPendingDemand builds an unbilled demand. clientID is copied from the domain
// so client-scoped reads need no join.
func NewPendingDemand(id, domainID, clientID snowflake.ID, title, description string, hours decimal.Decimal, now time.Time) Demand {
	return Demand{
		ID:           id,
		DomainID:     domainID,
		ClientID:     clientID,
		Title:        title,
		Description:  description,
		Status:       DemandStatusPending,
		Hours:        hours.Round(2),
		Value:        decimal.Zero,
		OverageValue: decimal.Zero,
		OverageHours: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (d *Demand) IsTerminal() bool {
	return d.Status == DemandStatusCompleted || d.Status == DemandStatusCanceled
}

func (d *Demand) CanTransitionTo(next DemandStatus) bool {
	for _, allowed := range transitions[d.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionTo moves the demand to next or leaves it untouched.
func (d *Demand) TransitionTo(next DemandStatus) error {
	if !d.CanTransitionTo(next) {
		return ErrInvalidStateTransition
	}
	d.Status = next
	return nil
}

// Editable reports whether title, description and hours may still change.
func (d *Demand) Editable() bool {
	return !d.Billed && (d.Status == DemandStatusPending || d.Status == DemandStatusInProgress)
}
