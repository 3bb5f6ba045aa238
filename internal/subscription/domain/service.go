package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"gorm.io/gorm"
)

type SubscribeRequest struct {
	DomainID  string     `json:"domain_id"`
	PlanID    string     `json:"plan_id"`
	StartDate *time.Time `json:"start_date,omitempty"`
}

type ListSubscriptionRequest struct {
	pagination.Pagination
	ClientID string
	DomainID string
	Status   SubscriptionStatus
}

type ListSubscriptionResponse struct {
	pagination.PageInfo
	Subscriptions []*Subscription `json:"subscriptions"`
}

type Service interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error)
	Cancel(ctx context.Context, id string) (Subscription, error)
	SetStatus(ctx context.Context, id string, status SubscriptionStatus) (Subscription, error)
	Get(ctx context.Context, id string) (Subscription, error)
	List(ctx context.Context, req ListSubscriptionRequest) (ListSubscriptionResponse, error)
}

type DeductResult struct {
	SubscriptionID snowflake.ID
	PlanID         snowflake.ID
	Overage        decimal.Decimal
	Remaining      decimal.Decimal
}

// Ledger is the only writer of subscription balances.
type Ledger interface {
	// Deduct runs inside the caller's transaction and locks the subscription row.
	Deduct(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, hours decimal.Decimal) (DeductResult, error)
	DeductHours(ctx context.Context, subscriptionID snowflake.ID, hours decimal.Decimal) (DeductResult, error)
	// ResetHours refills an active subscription and reports whether it did.
	ResetHours(ctx context.Context, subscriptionID snowflake.ID) (bool, error)
}

var (
	ErrInvalidHours             = errors.New("invalid_hours")
	ErrInvalidSubscription      = errors.New("invalid_subscription")
	ErrInvalidDomain            = errors.New("invalid_domain")
	ErrInvalidPlan              = errors.New("invalid_plan")
	ErrInvalidStatus            = errors.New("invalid_status")
	ErrSubscriptionNotFound     = errors.New("subscription_not_found")
	ErrSubscriptionNotActive    = errors.New("subscription_not_active")
	ErrActiveSubscriptionExists = errors.New("active_subscription_exists")
	ErrPlanNotActive            = errors.New("plan_not_active")
	ErrConcurrencyConflict      = errors.New("concurrency_conflict")
)
