package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type CreatePlanRequest struct {
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	MonthlyHours int             `json:"monthly_hours"`
	HourlyRate   decimal.Decimal `json:"hourly_rate"`
}

type UpdatePlanRequest struct {
	ID           string           `json:"id"`
	Name         *string          `json:"name,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	MonthlyHours *int             `json:"monthly_hours,omitempty"`
	HourlyRate   *decimal.Decimal `json:"hourly_rate,omitempty"`
	Status       *PlanStatus      `json:"status,omitempty"`
}

type ListPlanRequest struct {
	Status PlanStatus
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	Update(ctx context.Context, req UpdatePlanRequest) (Plan, error)
	Get(ctx context.Context, id string) (Plan, error)
	List(ctx context.Context, req ListPlanRequest) ([]Plan, error)
}

var (
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidPrice        = errors.New("invalid_price")
	ErrInvalidMonthlyHours = errors.New("invalid_monthly_hours")
	ErrInvalidHourlyRate   = errors.New("invalid_hourly_rate")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrPlanNotFound        = errors.New("plan_not_found")
)
