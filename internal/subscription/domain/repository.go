package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindActiveByDomainID(ctx context.Context, db *gorm.DB, domainID snowflake.ID) (*Subscription, error)
	FindActiveByDomainIDForUpdate(ctx context.Context, db *gorm.DB, domainID snowflake.ID) (*Subscription, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Subscription, error)
	ListActiveIDs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error)

	// UpdateBalance writes the balance only if the row still has expectedVersion.
	UpdateBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, remaining decimal.Decimal, now time.Time) (bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, now time.Time) error
	Cancel(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
}

type ListFilter struct {
	ClientID *snowflake.ID
	DomainID *snowflake.ID
	Status   SubscriptionStatus
	AfterID  int64
	Limit    int
}
