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

type CreateDemandRequest struct {
	DomainID    string          `json:"domain_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Hours       decimal.Decimal `json:"hours"`
}

type UpdateDemandRequest struct {
	ID          string           `json:"id"`
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Hours       *decimal.Decimal `json:"hours,omitempty"`
}

type ListDemandRequest struct {
	pagination.Pagination
	DomainID string
	Status   DemandStatus
	Billed   *bool
}

type ListDemandResponse struct {
	pagination.PageInfo
	Demands []*Demand `json:"demands"`
}

type Service interface {
	Create(ctx context.Context, req CreateDemandRequest) (Demand, error)
	Update(ctx context.Context, req UpdateDemandRequest) (Demand, error)
	Get(ctx context.Context, id string) (Demand, error)
	List(ctx context.Context, req ListDemandRequest) (ListDemandResponse, error)

	Start(ctx context.Context, id string) (Demand, error)
	// Approve prices the demand against its domain's ledger exactly once.
	Approve(ctx context.Context, id string) (Demand, error)
	Complete(ctx context.Context, id string) (Demand, error)
	Cancel(ctx context.Context, id string) (Demand, error)
}

type ListFilter struct {
	ClientID *snowflake.ID
	DomainID *snowflake.ID
	Status   DemandStatus
	Billed   *bool
	AfterID  int64
	Limit    int
}

// InvoiceFilter selects billed demands that no invoice has picked up yet.
type InvoiceFilter struct {
	BilledBefore time.Time
	Statuses     []DemandStatus
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, demand *Demand) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Demand, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Demand, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Demand, error)
	UpdateDetails(ctx context.Context, db *gorm.DB, demand *Demand) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status DemandStatus, now time.Time) error
	// SaveBilling persists the priced fields and status in one write guarded by billed = false.
	SaveBilling(ctx context.Context, db *gorm.DB, demand *Demand) (bool, error)

	ListUninvoiced(ctx context.Context, db *gorm.DB, filter InvoiceFilter) ([]*Demand, error)
	MarkInvoiced(ctx context.Context, db *gorm.DB, ids []snowflake.ID, paymentID *snowflake.ID, now time.Time) (int64, error)
}

var (
	ErrInvalidDemand          = errors.New("invalid_demand")
	ErrInvalidDomain          = errors.New("invalid_domain")
	ErrInvalidTitle           = errors.New("invalid_title")
	ErrInvalidHours           = errors.New("invalid_hours")
	ErrInvalidStatus          = errors.New("invalid_status")
	ErrInvalidStateTransition = errors.New("invalid_state_transition")
	ErrDemandNotFound         = errors.New("demand_not_found")
	ErrDemandLocked           = errors.New("demand_locked")
)
