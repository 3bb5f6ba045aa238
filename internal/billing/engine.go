// Package billing turns approved support hours into money.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/backoffice/internal/clock"
	demanddomain "github.com/smallbiznis/backoffice/internal/demand/domain"
	"github.com/smallbiznis/backoffice/internal/observability/metrics"
	plandomain "github.com/smallbiznis/backoffice/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
	"github.com/smallbiznis/backoffice/pkg/log"
	"github.com/smallbiznis/backoffice/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrAlreadyBilled = errors.New("already_billed")

// Engine prices a demand. Charge deducts from the ledger, so it must run once per demand.
type Engine interface {
	Charge(ctx context.Context, tx *gorm.DB, demand *demanddomain.Demand) error
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Ledger  subscriptiondomain.Ledger
	SubRepo subscriptiondomain.Repository
	Metrics *metrics.BillingMetrics `optional:"true"`
}

type engine struct {
	log      *zap.Logger
	clock    clock.Clock
	ledger   subscriptiondomain.Ledger
	subRepo  subscriptiondomain.Repository
	planRepo repository.Repository[plandomain.Plan]
	metrics  *metrics.BillingMetrics
}

func NewEngine(p Params) Engine {
	return &engine{
		log:      p.Log.Named("billing.engine"),
		clock:    p.Clock,
		ledger:   p.Ledger,
		subRepo:  p.SubRepo,
		planRepo: repository.ProvideStore[plandomain.Plan](p.DB),
		metrics:  p.Metrics,
	}
}

// Charge binds the demand to its domain's active subscription, if any, and fills
// value, overage_value, overage_hours, billed and billed_at. The caller persists it.
func (e *engine) Charge(ctx context.Context, tx *gorm.DB, demand *demanddomain.Demand) error {
	if demand == nil {
		return demanddomain.ErrInvalidDemand
	}
	if demand.Billed {
		return ErrAlreadyBilled
	}
	if demand.Hours.IsNegative() {
		return demanddomain.ErrInvalidHours
	}

	sub, err := e.subRepo.FindActiveByDomainIDForUpdate(ctx, tx, demand.DomainID)
	if err != nil {
		return fmt.Errorf("resolve active subscription: %w", err)
	}

	source := metrics.BillingSourceFallback
	if sub == nil {
		demand.SubscriptionID = nil
		demand.Value = Price(demand.Hours, plandomain.FallbackHourlyRate)
		demand.OverageValue = decimal.Zero
		demand.OverageHours = decimal.Zero
	} else {
		source = metrics.BillingSourcePlan
		result, err := e.ledger.Deduct(ctx, tx, sub.ID, demand.Hours)
		if err != nil {
			return err
		}
		plan, err := e.planRepo.WithTrx(tx).FindOne(ctx, &plandomain.Plan{ID: result.PlanID})
		if err != nil {
			return err
		}
		if plan == nil {
			return fmt.Errorf("subscription %s: %w", sub.ID, plandomain.ErrPlanNotFound)
		}

		subscriptionID := result.SubscriptionID
		demand.SubscriptionID = &subscriptionID
		demand.OverageHours = result.Overage
		demand.OverageValue = decimal.Zero
		demand.Value = decimal.Zero
		if result.Overage.IsPositive() {
			demand.OverageValue = Price(result.Overage, plan.HourlyRate)
			demand.Value = demand.OverageValue
		}
	}

	now := e.clock.Now()
	demand.Billed = true
	demand.BilledAt = &now
	demand.UpdatedAt = now
	e.metrics.IncDemandBilled(source)

	log.With(ctx, e.log).Info("demand charged",
		zap.String("demand_id", demand.ID.String()),
		zap.String("source", source),
		zap.String("hours", demand.Hours.String()),
		zap.String("overage_hours", demand.OverageHours.String()),
		zap.String("value", demand.Value.StringFixed(2)),
	)
	return nil
}

// Price multiplies hours by rate and rounds half-up to cents.
func Price(hours, rate decimal.Decimal) decimal.Decimal {
	return hours.Mul(rate).Round(2)
}
