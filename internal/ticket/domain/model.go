package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusCompleted  TicketStatus = "completed"
	TicketStatusCanceled   TicketStatus = "canceled"
)

var transitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusInProgress, TicketStatusCanceled},
	TicketStatusInProgress: {TicketStatusCompleted, TicketStatusCanceled},
}

// SupportTicket is a client request; it may spawn any number of demands.
type SupportTicket struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	ClientID  snowflake.ID  `gorm:"not null;index" json:"client_id"`
	DomainID  *snowflake.ID `gorm:"index" json:"domain_id,omitempty"`
	Message   string        `gorm:"type:text;not null" json:"message"`
	Status    TicketStatus  `gorm:"type:text;not null;index" json:"status"`
	CreatedAt time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time     `gorm:"not null" json:"updated_at"`
}

func (SupportTicket) TableName() string { return "support_tickets" }

func (t *SupportTicket) TransitionTo(next TicketStatus) error {
	for _, allowed := range transitions[t.Status] {
		if allowed == next {
			t.Status = next
			return nil
		}
	}
	return ErrInvalidStateTransition
}

// Convertible reports whether the ticket can still spawn demands.
func (t *SupportTicket) Convertible() bool {
	return t.Status == TicketStatusOpen || t.Status == TicketStatusInProgress
}
