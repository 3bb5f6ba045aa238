package billing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/backoffice/internal/clock"
	demanddomain "github.com/smallbiznis/backoffice/internal/demand/domain"
	"github.com/smallbiznis/backoffice/internal/observability/metrics"
	plandomain "github.com/smallbiznis/backoffice/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/backoffice/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/backoffice/internal/subscription/service"
	"github.com/smallbiznis/backoffice/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	engine   Engine
	registry *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest(&plandomain.Plan{}, &subscriptiondomain.Subscription{}, &demanddomain.Demand{})
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	registry := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(registry, metrics.Config{})
	subRepo := subscriptionrepository.Provide()
	ledger := subscriptionservice.NewLedger(subscriptionservice.LedgerParams{
		DB:      conn,
		Log:     zap.NewNop(),
		Clock:   fake,
		Repo:    subRepo,
		Metrics: billingMetrics,
	})

	return &fixture{
		db:       conn,
		node:     node,
		clock:    fake,
		registry: registry,
		engine: NewEngine(Params{
			DB:      conn,
			Log:     zap.NewNop(),
			Clock:   fake,
			Ledger:  ledger,
			SubRepo: subRepo,
			Metrics: billingMetrics,
		}),
	}
}

func (f *fixture) subscription(t *testing.T, domainID snowflake.ID, rate, balance string) subscriptiondomain.Subscription {
	t.Helper()
	now := f.clock.Now()
	plan := plandomain.Plan{
		ID:           f.node.Generate(),
		Name:         "Support",
		Price:        decimal.RequireFromString("500.00"),
		MonthlyHours: 10,
		HourlyRate:   decimal.RequireFromString(rate),
		Status:       plandomain.PlanStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.db.Create(&plan).Error)
	sub := subscriptiondomain.Subscription{
		ID:             f.node.Generate(),
		ClientID:       1,
		DomainID:       domainID,
		PlanID:         plan.ID,
		RemainingHours: decimal.RequireFromString(balance),
		Status:         subscriptiondomain.SubscriptionStatusActive,
		StartDate:      now,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, f.db.Create(&sub).Error)
	return sub
}

func (f *fixture) charge(t *testing.T, d *demanddomain.Demand) error {
	t.Helper()
	return f.db.Transaction(func(tx *gorm.DB) error {
		return f.engine.Charge(context.Background(), tx, d)
	})
}

func (f *fixture) balance(t *testing.T, id snowflake.ID) decimal.Decimal {
	t.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "id = ?", id).Error)
	return sub.RemainingHours
}

func newDemand(domainID snowflake.ID, hours string) *demanddomain.Demand {
	return &demanddomain.Demand{
		ID:       snowflake.ID(77),
		DomainID: domainID,
		ClientID: 1,
		Status:   demanddomain.DemandStatusInProgress,
		Hours:    decimal.RequireFromString(hours),
	}
}

func TestChargeWithoutSubscriptionUsesFallbackRate(t *testing.T) {
	f := newFixture(t)
	d := newDemand(100, "3")

	require.NoError(t, f.charge(t, d))
	assert.Equal(t, "300.00", d.Value.StringFixed(2))
	assert.True(t, d.OverageValue.IsZero())
	assert.Nil(t, d.SubscriptionID)
	assert.True(t, d.Billed)
	require.NotNil(t, d.BilledAt)
	assert.Equal(t, f.clock.Now(), *d.BilledAt)

	expected := `
# HELP backoffice_demands_billed_total Demands priced at approval, by rate source.
# TYPE backoffice_demands_billed_total counter
backoffice_demands_billed_total{env="unknown",service="backoffice",source="fallback"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(expected), "backoffice_demands_billed_total"))
}

func TestChargeBillsOverageAtPlanRate(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, 100, "50.00", "2")
	d := newDemand(100, "5")

	require.NoError(t, f.charge(t, d))
	require.NotNil(t, d.SubscriptionID)
	assert.Equal(t, sub.ID, *d.SubscriptionID)
	assert.Equal(t, "3", d.OverageHours.String())
	assert.Equal(t, "150.00", d.OverageValue.StringFixed(2))
	assert.Equal(t, "150.00", d.Value.StringFixed(2))
	assert.True(t, f.balance(t, sub.ID).IsZero())
}

func TestChargeWithinAllowanceIsFree(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, 100, "50.00", "10")
	d := newDemand(100, "4")

	require.NoError(t, f.charge(t, d))
	assert.True(t, d.Value.IsZero())
	assert.True(t, d.OverageValue.IsZero())
	assert.True(t, d.OverageHours.IsZero())
	assert.True(t, f.balance(t, sub.ID).Equal(decimal.NewFromInt(6)))
}

func TestChargeRefusesBilledDemand(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, 100, "50.00", "10")
	d := newDemand(100, "4")

	require.NoError(t, f.charge(t, d))
	assert.ErrorIs(t, f.charge(t, d), ErrAlreadyBilled)
	assert.True(t, f.balance(t, sub.ID).Equal(decimal.NewFromInt(6)))
}

func TestChargeIgnoresInactiveSubscription(t *testing.T) {
	f := newFixture(t)
	sub := f.subscription(t, 100, "50.00", "10")
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", sub.ID).
		Update("status", subscriptiondomain.SubscriptionStatusInactive).Error)

	d := newDemand(100, "2")
	require.NoError(t, f.charge(t, d))
	assert.Nil(t, d.SubscriptionID)
	assert.Equal(t, "200.00", d.Value.StringFixed(2))
	assert.True(t, f.balance(t, sub.ID).Equal(decimal.NewFromInt(10)))
}

func TestPriceRoundsHalfUp(t *testing.T) {
	cases := []struct{ hours, rate, want string }{
		{"3", "100.00", "300.00"},
		{"0.125", "1.00", "0.13"},
		{"1.5", "33.33", "50.00"},
		{"0.1", "0.05", "0.01"},
		{"0", "50.00", "0.00"},
	}
	for _, tc := range cases {
		got := Price(decimal.RequireFromString(tc.hours), decimal.RequireFromString(tc.rate))
		assert.Equal(t, tc.want, got.StringFixed(2), "%s x %s", tc.hours, tc.rate)
	}
}
