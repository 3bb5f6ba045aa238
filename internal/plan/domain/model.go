package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusInactive PlanStatus = "inactive"
	PlanStatusCanceled PlanStatus = "canceled"
)

// FallbackHourlyRate prices work on domains without an active subscription.
var FallbackHourlyRate = decimal.RequireFromString("100.00")

type Plan struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name         string          `gorm:"type:text;not null" json:"name"`
	Price        decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	MonthlyHours int             `gorm:"not null" json:"monthly_hours"`
	HourlyRate   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"hourly_rate"`
	Status       PlanStatus      `gorm:"type:text;not null;index" json:"status"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"not null" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// Allowance is the monthly hour grant as a decimal balance.
func (p Plan) Allowance() decimal.Decimal {
	return decimal.NewFromInt(int64(p.MonthlyHours))
}
