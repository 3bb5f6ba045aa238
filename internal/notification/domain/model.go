package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type NotificationStatus string

const (
	NotificationStatusActive   NotificationStatus = "active"
	NotificationStatusArchived NotificationStatus = "archived"
)

type NotificationType string

const (
	TypeDemandApproved        NotificationType = "demand_approved"
	TypeDemandCompleted       NotificationType = "demand_completed"
	TypeDemandCanceled        NotificationType = "demand_canceled"
	TypeTicketOpened          NotificationType = "ticket_opened"
	TypeTicketCompleted       NotificationType = "ticket_completed"
	TypeTicketConverted       NotificationType = "ticket_converted"
	TypePaymentCreated        NotificationType = "payment_created"
	TypePaymentPaid           NotificationType = "payment_paid"
	TypePaymentCanceled       NotificationType = "payment_canceled"
	TypePaymentPendingReview  NotificationType = "payment_pending_review"
	TypePaymentReviewRejected NotificationType = "payment_review_rejected"
)

// Notification is addressed to exactly one of a client or an admin user.
type Notification struct {
	ID        snowflake.ID       `gorm:"primaryKey" json:"id"`
	ClientID  *snowflake.ID      `gorm:"index" json:"client_id,omitempty"`
	UserID    *snowflake.ID      `gorm:"index" json:"user_id,omitempty"`
	DemandID  *snowflake.ID      `gorm:"index" json:"demand_id,omitempty"`
	Type      NotificationType   `gorm:"type:text;not null" json:"type"`
	Title     string             `gorm:"type:text;not null" json:"title"`
	Message   string             `gorm:"type:text;not null" json:"message"`
	Read      bool               `gorm:"column:is_read;not null;default:false" json:"read"`
	Status    NotificationStatus `gorm:"type:text;not null;index" json:"status"`
	CreatedAt time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time          `gorm:"not null" json:"updated_at"`
}

func (Notification) TableName() string { return "notifications" }

func (n *Notification) Validate() error {
	hasClient := n.ClientID != nil && *n.ClientID != 0
	hasUser := n.UserID != nil && *n.UserID != 0
	if hasClient == hasUser {
		return ErrInvalidRecipient
	}
	if strings.TrimSpace(string(n.Type)) == "" {
		return ErrInvalidType
	}
	if strings.TrimSpace(n.Title) == "" {
		return ErrInvalidTitle
	}
	return nil
}

// Message is the payload handed to a Dispatcher.
type Message struct {
	Type     NotificationType
	Title    string
	Body     string
	DemandID *snowflake.ID
}
