package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	auditdomain "github.com/smallbiznis/backoffice/internal/audit/domain"
	auditrepository "github.com/smallbiznis/backoffice/internal/audit/repository"
	auditservice "github.com/smallbiznis/backoffice/internal/audit/service"
	"github.com/smallbiznis/backoffice/internal/authorization"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	clientrepository "github.com/smallbiznis/backoffice/internal/client/repository"
	"github.com/smallbiznis/backoffice/internal/clock"
	notificationdomain "github.com/smallbiznis/backoffice/internal/notification/domain"
	notificationrepository "github.com/smallbiznis/backoffice/internal/notification/repository"
	notificationservice "github.com/smallbiznis/backoffice/internal/notification/service"
	paymentdomain "github.com/smallbiznis/backoffice/internal/payment/domain"
	"github.com/smallbiznis/backoffice/internal/payment/repository"
	"github.com/smallbiznis/backoffice/pkg/db"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	clock  *clock.FakeClock
	svc    paymentdomain.Service
	client clientdomain.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest(
		&clientdomain.Client{},
		&clientdomain.User{},
		&paymentdomain.Payment{},
		&notificationdomain.Notification{},
		&auditdomain.AuditLog{},
	)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	authz, err := authorization.NewLocal(zap.NewNop(), nil)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	clientRepo := clientrepository.Provide()

	notifier := notificationservice.NewService(notificationservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Authz: authz,
		Repo: notificationrepository.Provide(), ClientRepo: clientRepo,
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: auditrepository.Provide(),
	})

	f := &fixture{
		db:    conn,
		clock: fake,
		svc: NewService(Params{
			DB:         conn,
			Log:        zap.NewNop(),
			GenID:      node,
			Clock:      fake,
			Authz:      authz,
			Repo:       repository.Provide(),
			ClientRepo: clientRepo,
			AuditSvc:   auditSvc,
			Notifier:   notifier,
		}),
	}

	now := fake.Now()
	f.client = clientdomain.Client{ID: node.Generate(), Name: "Acme", Status: clientdomain.ClientStatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, conn.Create(&f.client).Error)
	admin := clientdomain.User{ID: node.Generate(), Email: "ops@backoffice.io", Name: "Ops", Role: clientdomain.UserRoleAdmin, CreatedAt: now}
	require.NoError(t, conn.Create(&admin).Error)
	return f
}

func (f *fixture) clientCtx() context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{Kind: actorcontext.KindClient, ID: 3, ClientID: f.client.ID})
}

func adminCtx() context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{Kind: actorcontext.KindAdmin, ID: 1})
}

func (f *fixture) create(t *testing.T, amount string) paymentdomain.Payment {
	t.Helper()
	p, err := f.svc.CreateManual(adminCtx(), paymentdomain.CreateManualPaymentRequest{
		ClientID:    f.client.ID.String(),
		Amount:      decimal.RequireFromString(amount),
		DueDate:     time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
		Description: "Extra hours",
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) auditActions(t *testing.T) []string {
	t.Helper()
	var rows []auditdomain.AuditLog
	require.NoError(t, f.db.Order("id ASC").Find(&rows).Error)
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Action)
	}
	return out
}

func (f *fixture) notificationCount(t *testing.T, typ notificationdomain.NotificationType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&notificationdomain.Notification{}).Where("type = ?", typ).Count(&count).Error)
	return count
}

func TestCreateManualDefaultsReferenceToDueMonth(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, "120.5")

	assert.Equal(t, paymentdomain.PaymentStatusOpen, p.Status)
	assert.Equal(t, paymentdomain.PaymentSourceManual, p.Source)
	assert.Equal(t, "2026-04", p.Reference)
	assert.Equal(t, "120.50", p.Amount.StringFixed(2))
	assert.Equal(t, []string{"payment.create_manual"}, f.auditActions(t))
	assert.EqualValues(t, 1, f.notificationCount(t, notificationdomain.TypePaymentCreated))
}

func TestCreateManualValidatesInput(t *testing.T) {
	f := newFixture(t)
	due := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		req  paymentdomain.CreateManualPaymentRequest
		err  error
	}{
		{"bad client", paymentdomain.CreateManualPaymentRequest{ClientID: "x", Amount: decimal.NewFromInt(1), DueDate: due}, paymentdomain.ErrInvalidClient},
		{"unknown client", paymentdomain.CreateManualPaymentRequest{ClientID: "4242", Amount: decimal.NewFromInt(1), DueDate: due}, clientdomain.ErrClientNotFound},
		{"zero amount", paymentdomain.CreateManualPaymentRequest{ClientID: f.client.ID.String(), DueDate: due}, paymentdomain.ErrInvalidAmount},
		{"missing due date", paymentdomain.CreateManualPaymentRequest{ClientID: f.client.ID.String(), Amount: decimal.NewFromInt(1)}, paymentdomain.ErrInvalidDueDate},
		{"bad reference", paymentdomain.CreateManualPaymentRequest{ClientID: f.client.ID.String(), Amount: decimal.NewFromInt(1), DueDate: due, Reference: "April"}, paymentdomain.ErrInvalidReference},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateManual(adminCtx(), tc.req)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	_, err := f.svc.CreateManual(f.clientCtx(), paymentdomain.CreateManualPaymentRequest{ClientID: f.client.ID.String(), Amount: decimal.NewFromInt(1), DueDate: due})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestMarkPaidStampsPaidAtAndAudits(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, "80")

	f.clock.Advance(48 * time.Hour)
	paid, err := f.svc.MarkPaid(adminCtx(), p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, paid.PaidAt.Equal(f.clock.Now()))

	_, err = f.svc.Cancel(adminCtx(), p.ID.String())
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidStateTransition)

	var entry auditdomain.AuditLog
	require.NoError(t, f.db.Where("action = ?", "payment.mark_paid").First(&entry).Error)
	assert.Equal(t, "payment", entry.TargetType)
	assert.Equal(t, "open", entry.Metadata["from_status"])
	assert.Equal(t, "paid", entry.Metadata["status"])
	assert.EqualValues(t, 1, f.notificationCount(t, notificationdomain.TypePaymentPaid))
}

func TestReviewRoundTrip(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, "80")

	submitted, err := f.svc.SubmitForReview(f.clientCtx(), p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusPendingReview, submitted.Status)
	assert.EqualValues(t, 1, f.notificationCount(t, notificationdomain.TypePaymentPendingReview))

	_, err = f.svc.RejectReview(f.clientCtx(), p.ID.String())
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	reopened, err := f.svc.RejectReview(adminCtx(), p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusOpen, reopened.Status)
	assert.Nil(t, reopened.PaidAt)
	assert.EqualValues(t, 1, f.notificationCount(t, notificationdomain.TypePaymentReviewRejected))

	_, err = f.svc.RejectReview(adminCtx(), p.ID.String())
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidStateTransition)

	assert.Equal(t, []string{"payment.create_manual", "payment.submit_review", "payment.reject_review"}, f.auditActions(t))
}

func TestClientOnlySeesOwnPayments(t *testing.T) {
	f := newFixture(t)
	p := f.create(t, "80")

	got, err := f.svc.Get(f.clientCtx(), p.ID.String())
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	stranger := actorcontext.WithActor(context.Background(), actorcontext.Actor{Kind: actorcontext.KindClient, ID: 4, ClientID: 999})
	_, err = f.svc.Get(stranger, p.ID.String())
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
	_, err = f.svc.SubmitForReview(stranger, p.ID.String())
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)

	resp, err := f.svc.List(stranger, paymentdomain.ListPaymentRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Payments)

	resp, err = f.svc.List(f.clientCtx(), paymentdomain.ListPaymentRequest{Status: paymentdomain.PaymentStatusOpen})
	require.NoError(t, err)
	require.Len(t, resp.Payments, 1)
	assert.False(t, resp.HasMore)
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.create(t, "10")
	}

	first, err := f.svc.List(adminCtx(), paymentdomain.ListPaymentRequest{ClientID: f.client.ID.String(), Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Payments, 2)
	require.True(t, first.HasMore)

	second, err := f.svc.List(adminCtx(), paymentdomain.ListPaymentRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	assert.Len(t, second.Payments, 1)
	assert.False(t, second.HasMore)
}
