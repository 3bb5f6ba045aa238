package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	"github.com/smallbiznis/backoffice/internal/authorization"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	clientrepository "github.com/smallbiznis/backoffice/internal/client/repository"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/internal/observability/metrics"
	plandomain "github.com/smallbiznis/backoffice/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
	"github.com/smallbiznis/backoffice/internal/subscription/repository"
	"github.com/smallbiznis/backoffice/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	repo   subscriptiondomain.Repository
	svc    subscriptiondomain.Service
	ledger subscriptiondomain.Ledger
	client clientdomain.Client
	domain clientdomain.Domain
	plan   plandomain.Plan
}

func fixtureModels() []any {
	return []any{
		&plandomain.Plan{},
		&clientdomain.Client{},
		&clientdomain.Domain{},
		&clientdomain.User{},
		&subscriptiondomain.Subscription{},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest(fixtureModels()...)
	require.NoError(t, err)
	return newFixtureOn(t, conn)
}

// newFileFixture opens a file-backed database with a real connection pool, so
// concurrent transactions contend for the SQLite write lock.
func newFileFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open(db.Config{
		Type:        "sqlite",
		Name:        filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConn: 8,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, conn.AutoMigrate(fixtureModels()...))
	return newFixtureOn(t, conn)
}

func newFixtureOn(t *testing.T, conn *gorm.DB) *fixture {
	t.Helper()
	require.NoError(t, conn.Exec(
		`CREATE UNIQUE INDEX ux_subscriptions_active_domain ON subscriptions(domain_id)
		 WHERE status = 'active' AND deleted_at IS NULL`,
	).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	authz, err := authorization.NewLocal(zap.NewNop(), nil)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	repo := repository.Provide()

	f := &fixture{
		db:    conn,
		node:  node,
		clock: fake,
		repo:  repo,
		svc: NewService(Params{
			DB:         conn,
			Log:        zap.NewNop(),
			GenID:      node,
			Clock:      fake,
			Authz:      authz,
			Repo:       repo,
			ClientRepo: clientrepository.Provide(),
		}),
		ledger: NewLedger(LedgerParams{
			DB:      conn,
			Log:     zap.NewNop(),
			Clock:   fake,
			Repo:    repo,
			Metrics: metrics.NewBillingMetrics(prometheus.NewRegistry(), metrics.Config{}),
		}),
	}

	now := fake.Now()
	f.client = clientdomain.Client{ID: node.Generate(), Name: "Acme", Status: clientdomain.ClientStatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, conn.Create(&f.client).Error)
	f.domain = clientdomain.Domain{ID: node.Generate(), ClientID: f.client.ID, Hostname: "acme.io", Status: clientdomain.DomainStatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, conn.Create(&f.domain).Error)
	f.plan = f.createPlan(t, 10, "50.00", plandomain.PlanStatusActive)
	return f
}

func (f *fixture) createPlan(t *testing.T, hours int, rate string, status plandomain.PlanStatus) plandomain.Plan {
	t.Helper()
	now := f.clock.Now()
	plan := plandomain.Plan{
		ID:           f.node.Generate(),
		Name:         "Plan",
		Price:        decimal.RequireFromString("100.00"),
		MonthlyHours: hours,
		HourlyRate:   decimal.RequireFromString(rate),
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.db.Create(&plan).Error)
	return plan
}

func (f *fixture) subscribe(t *testing.T) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.svc.Subscribe(adminCtx(), subscriptiondomain.SubscribeRequest{
		DomainID: f.domain.ID.String(),
		PlanID:   f.plan.ID.String(),
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) setBalance(t *testing.T, id snowflake.ID, balance string) {
	t.Helper()
	require.NoError(t, f.db.Exec(
		`UPDATE subscriptions SET remaining_hours = ? WHERE id = ?`,
		decimal.RequireFromString(balance), id,
	).Error)
}

func (f *fixture) balance(t *testing.T, id snowflake.ID) decimal.Decimal {
	t.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.Unscoped().First(&sub, "id = ?", id).Error)
	return sub.RemainingHours
}

func adminCtx() context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{Kind: actorcontext.KindAdmin, ID: 1})
}

func TestSubscribeGrantsPlanAllowance(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, f.client.ID, sub.ClientID)
	assert.True(t, sub.RemainingHours.Equal(decimal.NewFromInt(10)))
	assert.EqualValues(t, 1, sub.Version)

	got, err := f.svc.Get(adminCtx(), sub.ID.String())
	require.NoError(t, err)
	assert.True(t, got.RemainingHours.Equal(decimal.NewFromInt(10)))
}

func TestSubscribeRejectsSecondActiveSubscription(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t)

	_, err := f.svc.Subscribe(adminCtx(), subscriptiondomain.SubscribeRequest{
		DomainID: f.domain.ID.String(),
		PlanID:   f.plan.ID.String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrActiveSubscriptionExists)
}

func TestPartialIndexBacksActiveInvariant(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t)

	dup := sub
	dup.ID = f.node.Generate()
	err := f.repo.Insert(context.Background(), f.db, &dup)
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKeyErr(err))
}

func TestSubscribeRequiresActivePlan(t *testing.T) {
	f := newFixture(t)
	inactive := f.createPlan(t, 5, "40.00", plandomain.PlanStatusInactive)

	_, err := f.svc.Subscribe(adminCtx(), subscriptiondomain.SubscribeRequest{
		DomainID: f.domain.ID.String(),
		PlanID:   inactive.ID.String(),
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrPlanNotActive)

	_, err = f.svc.Subscribe(adminCtx(), subscriptiondomain.SubscribeRequest{
		DomainID: "123",
		PlanID:   f.plan.ID.String(),
	})
	assert.ErrorIs(t, err, clientdomain.ErrDomainNotFound)
}

func TestCancelSoftDeletesAndFreesDomain(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t)

	canceled, err := f.svc.Cancel(adminCtx(), sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, canceled.Status)
	require.NotNil(t, canceled.EndDate)

	_, err = f.svc.Get(adminCtx(), sub.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	var raw subscriptiondomain.Subscription
	require.NoError(t, f.db.Unscoped().First(&raw, "id = ?", sub.ID).Error)
	assert.True(t, raw.DeletedAt.Valid)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, raw.Status)

	f.subscribe(t)
}

func TestSetStatusTogglesActive(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t)

	paused, err := f.svc.SetStatus(adminCtx(), sub.ID.String(), subscriptiondomain.SubscriptionStatusInactive)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusInactive, paused.Status)

	second := f.subscribe(t)
	_, err = f.svc.SetStatus(adminCtx(), sub.ID.String(), subscriptiondomain.SubscriptionStatusActive)
	assert.ErrorIs(t, err, subscriptiondomain.ErrActiveSubscriptionExists)

	_, err = f.svc.SetStatus(adminCtx(), second.ID.String(), subscriptiondomain.SubscriptionStatusCanceled)
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)
}

func TestClientSeesOnlyOwnSubscriptions(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t)

	mine := actorcontext.WithActor(context.Background(), actorcontext.Actor{Kind: actorcontext.KindClient, ID: 7, ClientID: f.client.ID})
	got, err := f.svc.Get(mine, sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	other := actorcontext.WithActor(context.Background(), actorcontext.Actor{Kind: actorcontext.KindClient, ID: 8, ClientID: 999})
	_, err = f.svc.Get(other, sub.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)

	list, err := f.svc.List(other, subscriptiondomain.ListSubscriptionRequest{})
	require.NoError(t, err)
	assert.Empty(t, list.Subscriptions)

	list, err = f.svc.List(mine, subscriptiondomain.ListSubscriptionRequest{ClientID: "999"})
	require.NoError(t, err)
	assert.Len(t, list.Subscriptions, 1)

	_, err = f.svc.Cancel(mine, sub.ID.String())
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestLedgerDeductOverage(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t)
	f.setBalance(t, sub.ID, "2")

	res, err := f.ledger.DeductHours(context.Background(), sub.ID, decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.True(t, res.Overage.Equal(decimal.NewFromInt(3)))
	assert.True(t, res.Remaining.IsZero())
	assert.Equal(t, f.plan.ID, res.PlanID)
	assert.True(t, f.balance(t, sub.ID).IsZero())
}

func TestLedgerDeductWithinAllowance(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t)

	res, err := f.ledger.DeductHours(context.Background(), sub.ID, decimal.NewFromInt(4))
	require.NoError(t, err)
	assert.True(t, res.Overage.IsZero())
	assert.True(t, f.balance(t, sub.ID).Equal(decimal.NewFromInt(6)))
}

func TestLedgerRejectsInactiveSubscription(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t)
	_, err := f.svc.SetStatus(adminCtx(), sub.ID.String(), subscriptiondomain.SubscriptionStatusInactive)
	require.NoError(t, err)

	_, err = f.ledger.DeductHours(context.Background(), sub.ID, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotActive)
	assert.True(t, f.balance(t, sub.ID).Equal(decimal.NewFromInt(10)))
}

func TestUpdateBalanceRejectsStaleVersion(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t)
	ctx := context.Background()

	ok, err := f.repo.UpdateBalance(ctx, f.db, sub.ID, sub.Version, decimal.NewFromInt(9), f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.repo.UpdateBalance(ctx, f.db, sub.ID, sub.Version, decimal.NewFromInt(1), f.clock.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, f.balance(t, sub.ID).Equal(decimal.NewFromInt(9)))
}

func TestConcurrentDeductionsShareBalance(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t)
	f.setBalance(t, sub.ID, "5")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		overages []decimal.Decimal
		errs     []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.DeductHours(context.Background(), sub.ID, decimal.NewFromInt(4))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			overages = append(overages, res.Overage)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, overages, 2)
	total := overages[0].Add(overages[1])
	assert.True(t, total.Equal(decimal.NewFromInt(3)), "total overage %s", total)
	assert.True(t, f.balance(t, sub.ID).IsZero())
}

func TestConcurrentDeductionsQueueOnFileDatabase(t *testing.T) {
	f := newFileFixture(t)
	sub := f.subscribe(t)
	f.setBalance(t, sub.ID, "5")

	const workers = 6
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total = decimal.Zero
		errs  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.DeductHours(context.Background(), sub.ID, decimal.NewFromInt(4))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			total = total.Add(res.Overage)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.True(t, total.Equal(decimal.NewFromInt(workers*4-5)), "total overage %s", total)
	assert.True(t, f.balance(t, sub.ID).IsZero())
}

func TestLedgerReportsLockContentionAsConflict(t *testing.T) {
	f := newFixture(t)
	ledger := f.ledger.(*Ledger)

	err := ledger.contended(context.Background(), "deduct", fmt.Errorf("write ledger balance: %w", errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.ErrorIs(t, err, subscriptiondomain.ErrConcurrencyConflict)

	plain := errors.New("no such table: subscriptions")
	assert.Same(t, plain, ledger.contended(context.Background(), "deduct", plain))
	assert.NoError(t, ledger.contended(context.Background(), "deduct", nil))
}

func TestResetHoursOnlyTouchesActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	active := f.subscribe(t)
	f.setBalance(t, active.ID, "1.5")

	_, err := f.svc.SetStatus(adminCtx(), active.ID.String(), subscriptiondomain.SubscriptionStatusInactive)
	require.NoError(t, err)
	reset, err := f.ledger.ResetHours(ctx, active.ID)
	require.NoError(t, err)
	assert.False(t, reset)
	assert.True(t, f.balance(t, active.ID).Equal(decimal.RequireFromString("1.5")))

	_, err = f.svc.SetStatus(adminCtx(), active.ID.String(), subscriptiondomain.SubscriptionStatusActive)
	require.NoError(t, err)
	reset, err = f.ledger.ResetHours(ctx, active.ID)
	require.NoError(t, err)
	assert.True(t, reset)
	assert.True(t, f.balance(t, active.ID).Equal(decimal.NewFromInt(10)))

	_, err = f.svc.Cancel(adminCtx(), active.ID.String())
	require.NoError(t, err)
	f.setBalance(t, active.ID, "3")
	reset, err = f.ledger.ResetHours(ctx, active.ID)
	require.NoError(t, err)
	assert.False(t, reset)
	assert.True(t, f.balance(t, active.ID).Equal(decimal.NewFromInt(3)))
}
