package repository

import (
	"context"

	"github.com/smallbiznis/backoffice/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a thin CRUD store for reference tables that need no row locking.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, id int64, fields map[string]any) error
	Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
}
