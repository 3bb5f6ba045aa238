package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/internal/observability/metrics"
	plandomain "github.com/smallbiznis/backoffice/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
	"github.com/smallbiznis/backoffice/pkg/db"
	"github.com/smallbiznis/backoffice/pkg/log"
	"github.com/smallbiznis/backoffice/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LedgerParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    subscriptiondomain.Repository
	Metrics *metrics.BillingMetrics `optional:"true"`
}

// Ledger serializes balance writes with a row lock and a version check.
type Ledger struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     subscriptiondomain.Repository
	planRepo repository.Repository[plandomain.Plan]
	metrics  *metrics.BillingMetrics
}

func NewLedger(p LedgerParams) subscriptiondomain.Ledger {
	return &Ledger{
		db:       p.DB,
		log:      p.Log.Named("subscription.ledger"),
		clock:    p.Clock,
		repo:     p.Repo,
		planRepo: repository.ProvideStore[plandomain.Plan](p.DB),
		metrics:  p.Metrics,
	}
}

func (l *Ledger) Deduct(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, hours decimal.Decimal) (subscriptiondomain.DeductResult, error) {
	if hours.IsNegative() {
		return subscriptiondomain.DeductResult{}, subscriptiondomain.ErrInvalidHours
	}

	sub, err := l.repo.FindByIDForUpdate(ctx, tx, subscriptionID)
	if err != nil {
		return subscriptiondomain.DeductResult{}, l.contended(ctx, "deduct", err)
	}
	if sub == nil {
		return subscriptiondomain.DeductResult{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	if !sub.IsActive() {
		return subscriptiondomain.DeductResult{}, subscriptiondomain.ErrSubscriptionNotActive
	}

	expectedVersion := sub.Version
	overage, err := sub.DeductHours(hours)
	if err != nil {
		return subscriptiondomain.DeductResult{}, err
	}

	ok, err := l.repo.UpdateBalance(ctx, tx, sub.ID, expectedVersion, sub.RemainingHours, l.clock.Now())
	if err != nil {
		return subscriptiondomain.DeductResult{}, l.contended(ctx, "deduct", fmt.Errorf("write ledger balance: %w", err))
	}
	if !ok {
		l.metrics.IncLedgerConflict("deduct")
		log.With(ctx, l.log).Warn("ledger deduct lost version race",
			zap.String("subscription_id", sub.ID.String()),
			zap.Int64("expected_version", expectedVersion),
		)
		return subscriptiondomain.DeductResult{}, subscriptiondomain.ErrConcurrencyConflict
	}
	if overage.IsPositive() {
		l.metrics.AddOverageHours(overage)
	}

	return subscriptiondomain.DeductResult{
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		Overage:        overage,
		Remaining:      sub.RemainingHours,
	}, nil
}

func (l *Ledger) DeductHours(ctx context.Context, subscriptionID snowflake.ID, hours decimal.Decimal) (subscriptiondomain.DeductResult, error) {
	var result subscriptiondomain.DeductResult
	err := subscriptiondomain.RetryOnConflict(ctx, func() error {
		err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res, err := l.Deduct(ctx, tx, subscriptionID, hours)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		return l.contended(ctx, "deduct", err)
	})
	if err != nil {
		return subscriptiondomain.DeductResult{}, err
	}
	return result, nil
}

func (l *Ledger) ResetHours(ctx context.Context, subscriptionID snowflake.ID) (bool, error) {
	var reset bool
	err := subscriptiondomain.RetryOnConflict(ctx, func() error {
		reset = false
		err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sub, err := l.repo.FindByIDForUpdate(ctx, tx, subscriptionID)
			if err != nil {
				return err
			}
			if sub == nil || !sub.IsActive() {
				return nil
			}

			plan, err := l.planRepo.WithTrx(tx).FindOne(ctx, &plandomain.Plan{ID: sub.PlanID})
			if err != nil {
				return err
			}
			if plan == nil {
				return fmt.Errorf("subscription %s: %w", sub.ID, plandomain.ErrPlanNotFound)
			}

			expectedVersion := sub.Version
			sub.ResetHours(plan.Allowance())
			ok, err := l.repo.UpdateBalance(ctx, tx, sub.ID, expectedVersion, sub.RemainingHours, l.clock.Now())
			if err != nil {
				return fmt.Errorf("write ledger balance: %w", err)
			}
			if !ok {
				l.metrics.IncLedgerConflict("reset")
				return subscriptiondomain.ErrConcurrencyConflict
			}
			reset = true
			return nil
		})
		return l.contended(ctx, "reset", err)
	})
	if err != nil {
		return false, err
	}
	if reset {
		l.metrics.IncHoursReset()
	}
	return reset, nil
}

// contended turns a lost database lock into ErrConcurrencyConflict so the
// caller's retry treats it like a stale version.
func (l *Ledger) contended(ctx context.Context, op string, err error) error {
	if err == nil || errors.Is(err, subscriptiondomain.ErrConcurrencyConflict) || !db.IsLockContentionErr(err) {
		return err
	}
	l.metrics.IncLedgerConflict(op)
	log.With(ctx, l.log).Warn("ledger write lost database lock",
		zap.String("op", op),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %w", subscriptiondomain.ErrConcurrencyConflict, err)
}
