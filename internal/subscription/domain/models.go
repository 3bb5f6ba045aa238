// Package domain holds the subscription hour ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription binds a domain to a plan and carries its remaining hour balance.
// RemainingHours is never negative; Version guards every balance write.
type Subscription struct {
	ID             snowflake.ID       `gorm:"primaryKey" json:"id"`
	ClientID       snowflake.ID       `gorm:"not null;index" json:"client_id"`
	DomainID       snowflake.ID       `gorm:"not null;index" json:"domain_id"`
	PlanID         snowflake.ID       `gorm:"not null;index" json:"plan_id"`
	RemainingHours decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"remaining_hours"`
	Status         SubscriptionStatus `gorm:"type:text;not null;index" json:"status"`
	StartDate      time.Time          `gorm:"not null" json:"start_date"`
	EndDate        *time.Time         `json:"end_date,omitempty"`
	Version        int64              `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time          `gorm:"not null" json:"updated_at"`
	DeletedAt      gorm.DeletedAt     `gorm:"index" json:"-"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive && !s.DeletedAt.Valid
}

// DeductHours consumes hours from the balance and returns the uncovered part.
func (s *Subscription) DeductHours(hours decimal.Decimal) (decimal.Decimal, error) {
	if hours.IsNegative() {
		return decimal.Zero, ErrInvalidHours
	}
	if s.RemainingHours.GreaterThanOrEqual(hours) {
		s.RemainingHours = s.RemainingHours.Sub(hours)
		return decimal.Zero, nil
	}
	overage := hours.Sub(s.RemainingHours)
	s.RemainingHours = decimal.Zero
	return overage, nil
}

// ResetHours refills the balance to the allowance. Unused hours do not roll over.
func (s *Subscription) ResetHours(allowance decimal.Decimal) {
	if allowance.IsNegative() {
		allowance = decimal.Zero
	}
	s.RemainingHours = allowance
}
