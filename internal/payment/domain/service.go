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

type CreateManualPaymentRequest struct {
	ClientID       string          `json:"client_id"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	DueDate        time.Time       `json:"due_date"`
	Reference      string          `json:"reference,omitempty"`
	Description    string          `json:"description"`
}

type ListPaymentRequest struct {
	pagination.Pagination
	ClientID  string
	Status    PaymentStatus
	Reference string
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []*Payment `json:"payments"`
}

type Service interface {
	CreateManual(ctx context.Context, req CreateManualPaymentRequest) (Payment, error)
	Get(ctx context.Context, id string) (Payment, error)
	List(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)

	MarkPaid(ctx context.Context, id string) (Payment, error)
	Cancel(ctx context.Context, id string) (Payment, error)
	// SubmitForReview is the client reporting a payment that an admin still has to confirm.
	SubmitForReview(ctx context.Context, id string) (Payment, error)
	RejectReview(ctx context.Context, id string) (Payment, error)
}

type ListFilter struct {
	ClientID  *snowflake.ID
	Status    PaymentStatus
	Reference string
	AfterID   int64
	Limit     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	// FindCycleForUpdate returns the client's cycle payment for reference in any status, if any.
	FindCycleForUpdate(ctx context.Context, db *gorm.DB, clientID snowflake.ID, reference string) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Payment, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, payment *Payment) error
	// UpdateAmount overwrites the amount of a row the caller has locked.
	UpdateAmount(ctx context.Context, db *gorm.DB, id snowflake.ID, amount decimal.Decimal, now time.Time) error
}

var (
	ErrInvalidPayment         = errors.New("invalid_payment")
	ErrInvalidClient          = errors.New("invalid_client")
	ErrInvalidSubscription    = errors.New("invalid_subscription")
	ErrInvalidAmount          = errors.New("invalid_amount")
	ErrInvalidDueDate         = errors.New("invalid_due_date")
	ErrInvalidReference       = errors.New("invalid_reference")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrPaymentNotFound        = errors.New("payment_not_found")
)
