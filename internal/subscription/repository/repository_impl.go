package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
	"github.com/smallbiznis/backoffice/pkg/db"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, client_id, domain_id, plan_id, remaining_hours, status,
	start_date, end_date, version, created_at, updated_at, deleted_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, client_id, domain_id, plan_id, remaining_hours, status,
			start_date, end_date, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.ClientID,
		subscription.DomainID,
		subscription.PlanID,
		subscription.RemainingHours,
		subscription.Status,
		subscription.StartDate,
		subscription.EndDate,
		subscription.Version,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, conn,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, conn,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ? AND deleted_at IS NULL`+db.ForUpdate(conn),
		id,
	)
}

func (r *repo) FindActiveByDomainID(ctx context.Context, conn *gorm.DB, domainID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, conn,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE domain_id = ? AND status = ? AND deleted_at IS NULL
		 ORDER BY id DESC LIMIT 1`,
		domainID,
		subscriptiondomain.SubscriptionStatusActive,
	)
}

func (r *repo) FindActiveByDomainIDForUpdate(ctx context.Context, conn *gorm.DB, domainID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, conn,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE domain_id = ? AND status = ? AND deleted_at IS NULL
		 ORDER BY id DESC LIMIT 1`+db.ForUpdate(conn),
		domainID,
		subscriptiondomain.SubscriptionStatusActive,
	)
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter subscriptiondomain.ListFilter) ([]*subscriptiondomain.Subscription, error) {
	var subscriptions []*subscriptiondomain.Subscription
	stmt := conn.WithContext(ctx).Model(&subscriptiondomain.Subscription{})
	if filter.ClientID != nil {
		stmt = stmt.Where("client_id = ?", *filter.ClientID)
	}
	if filter.DomainID != nil {
		stmt = stmt.Where("domain_id = ?", *filter.DomainID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.AfterID > 0 {
		stmt = stmt.Where("id > ?", filter.AfterID)
	}
	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&subscriptions).Error; err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) ListActiveIDs(ctx context.Context, conn *gorm.DB, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []int64
	err := conn.WithContext(ctx).Raw(
		`SELECT id FROM subscriptions
		 WHERE status = ? AND deleted_at IS NULL AND id > ?
		 ORDER BY id ASC LIMIT ?`,
		subscriptiondomain.SubscriptionStatusActive,
		afterID,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		out = append(out, snowflake.ID(id))
	}
	return out, nil
}

func (r *repo) UpdateBalance(ctx context.Context, conn *gorm.DB, id snowflake.ID, expectedVersion int64, remaining decimal.Decimal, now time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET remaining_hours = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		remaining,
		now,
		id,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, status subscriptiondomain.SubscriptionStatus, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		status,
		now,
		id,
	).Error
}

// Cancel ends the subscription and soft-deletes it in one write.
func (r *repo) Cancel(ctx context.Context, conn *gorm.DB, id snowflake.ID, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, end_date = ?, deleted_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		subscriptiondomain.SubscriptionStatusCanceled,
		now,
		now,
		now,
		id,
	).Error
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&subscription).Error; err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}
