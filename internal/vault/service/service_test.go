package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	auditdomain "github.com/smallbiznis/backoffice/internal/audit/domain"
	auditrepository "github.com/smallbiznis/backoffice/internal/audit/repository"
	auditservice "github.com/smallbiznis/backoffice/internal/audit/service"
	"github.com/smallbiznis/backoffice/internal/authorization"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	clientrepository "github.com/smallbiznis/backoffice/internal/client/repository"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/internal/config"
	"github.com/smallbiznis/backoffice/internal/observability/metrics"
	"github.com/smallbiznis/backoffice/internal/ratelimit"
	vaultdomain "github.com/smallbiznis/backoffice/internal/vault/domain"
	"github.com/smallbiznis/backoffice/internal/vault/repository"
	"github.com/smallbiznis/backoffice/pkg/db"
	"github.com/smallbiznis/backoffice/pkg/sealer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	registry *prometheus.Registry
	svc      vaultdomain.Service
	client   clientdomain.Client
	domain   clientdomain.Domain
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLimiter(t, nil)
}

func newFixtureWithLimiter(t *testing.T, limiter *ratelimit.RevealLimiter) *fixture {
	t.Helper()
	conn, err := db.NewTest(
		&clientdomain.Client{},
		&clientdomain.Domain{},
		&vaultdomain.Entry{},
		&auditdomain.AuditLog{},
	)
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	authz, err := authorization.NewLocal(zap.NewNop(), nil)
	require.NoError(t, err)
	seal, err := sealer.New("test-vault-secret")
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	registry := prometheus.NewRegistry()

	f := &fixture{
		db:       conn,
		registry: registry,
		svc: NewService(Params{
			DB:         conn,
			Log:        zap.NewNop(),
			GenID:      node,
			Clock:      fake,
			Authz:      authz,
			Repo:       repository.Provide(),
			ClientRepo: clientrepository.Provide(),
			Sealer:     seal,
			AuditSvc: auditservice.NewService(auditservice.Params{
				DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: auditrepository.Provide(),
			}),
			Metrics: metrics.NewBillingMetrics(registry, metrics.Config{}),
			Limiter: limiter,
		}),
	}

	now := fake.Now()
	f.client = clientdomain.Client{ID: node.Generate(), Name: "Acme", Status: clientdomain.ClientStatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, conn.Create(&f.client).Error)
	f.domain = clientdomain.Domain{ID: node.Generate(), ClientID: f.client.ID, Hostname: "acme.io", Status: clientdomain.DomainStatusActive, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, conn.Create(&f.domain).Error)
	return f
}

func adminCtx() context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{Kind: actorcontext.KindAdmin, ID: 1})
}

func (f *fixture) clientCtx() context.Context {
	return actorcontext.WithActor(context.Background(), actorcontext.Actor{Kind: actorcontext.KindClient, ID: 3, ClientID: f.client.ID})
}

func (f *fixture) create(t *testing.T) vaultdomain.Entry {
	t.Helper()
	entry, err := f.svc.Create(adminCtx(), vaultdomain.CreateEntryRequest{
		ClientID: f.client.ID.String(),
		DomainID: f.domain.ID.String(),
		Service:  "cPanel",
		Login:    "acme",
		Secret:   "s3cr3t!",
		URL:      "https://acme.io:2083",
	})
	require.NoError(t, err)
	return entry
}

func TestCreateSealsSecretAndHidesItFromJSON(t *testing.T) {
	f := newFixture(t)
	entry := f.create(t)

	assert.NotContains(t, entry.SealedSecret, "s3cr3t!")
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sealed_secret")
	assert.NotContains(t, string(raw), "s3cr3t!")

	got, err := f.svc.Get(f.clientCtx(), entry.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "cPanel", got.Service)
	require.NotNil(t, got.DomainID)
	assert.Equal(t, f.domain.ID, *got.DomainID)
}

func TestCreateRejectsForeignDomain(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(adminCtx(), vaultdomain.CreateEntryRequest{
		ClientID: f.client.ID.String(),
		DomainID: "4242",
		Service:  "FTP",
		Secret:   "x",
	})
	assert.ErrorIs(t, err, clientdomain.ErrDomainNotFound)

	_, err = f.svc.Create(adminCtx(), vaultdomain.CreateEntryRequest{ClientID: f.client.ID.String(), Service: "FTP"})
	assert.ErrorIs(t, err, vaultdomain.ErrInvalidSecret)
}

func TestRevealIsAdminOnlyAndAudited(t *testing.T) {
	f := newFixture(t)
	entry := f.create(t)

	_, err := f.svc.Reveal(f.clientCtx(), entry.ID.String())
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	revealed, err := f.svc.Reveal(adminCtx(), entry.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t!", revealed.Secret)
	assert.False(t, revealed.Redacted)

	var entryAudit auditdomain.AuditLog
	require.NoError(t, f.db.Where("action = ?", "vault.reveal").First(&entryAudit).Error)
	assert.Equal(t, "vault_entry", entryAudit.TargetType)
	assert.Equal(t, false, entryAudit.Metadata["redacted"])
}

func TestRevealRedactsUndecryptableSecret(t *testing.T) {
	f := newFixture(t)
	entry := f.create(t)
	require.NoError(t, f.db.Exec(`UPDATE vault_entries SET sealed_secret = ? WHERE id = ?`, `{"version":1,"nonce":"AAAA","ciphertext":"AAAA"}`, entry.ID).Error)

	revealed, err := f.svc.Reveal(adminCtx(), entry.ID.String())
	require.NoError(t, err)
	assert.True(t, revealed.Redacted)
	assert.Empty(t, revealed.Secret)

	assert.NoError(t, testutil.GatherAndCompare(f.registry, strings.NewReader(`
# HELP backoffice_vault_decrypt_failures_total Vault reveals that returned a redacted secret.
# TYPE backoffice_vault_decrypt_failures_total counter
backoffice_vault_decrypt_failures_total{env="unknown",service="backoffice"} 1
`), "backoffice_vault_decrypt_failures_total"))
}

func TestUpdateRotatesSecret(t *testing.T) {
	f := newFixture(t)
	entry := f.create(t)

	secret := "n3w"
	status := vaultdomain.EntryStatusInactive
	updated, err := f.svc.Update(adminCtx(), vaultdomain.UpdateEntryRequest{ID: entry.ID.String(), Secret: &secret, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, vaultdomain.EntryStatusInactive, updated.Status)
	assert.NotEqual(t, entry.SealedSecret, updated.SealedSecret)

	revealed, err := f.svc.Reveal(adminCtx(), entry.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "n3w", revealed.Secret)

	bad := vaultdomain.EntryStatus("archived")
	_, err = f.svc.Update(adminCtx(), vaultdomain.UpdateEntryRequest{ID: entry.ID.String(), Status: &bad})
	assert.ErrorIs(t, err, vaultdomain.ErrInvalidStatus)
}

func TestDeleteSoftDeletes(t *testing.T) {
	f := newFixture(t)
	entry := f.create(t)

	require.ErrorIs(t, f.svc.Delete(f.clientCtx(), entry.ID.String()), authorization.ErrForbidden)
	require.NoError(t, f.svc.Delete(adminCtx(), entry.ID.String()))
	assert.ErrorIs(t, f.svc.Delete(adminCtx(), entry.ID.String()), vaultdomain.ErrEntryNotFound)

	_, err := f.svc.Get(adminCtx(), entry.ID.String())
	assert.ErrorIs(t, err, vaultdomain.ErrEntryNotFound)

	var count int64
	require.NoError(t, f.db.Model(&vaultdomain.Entry{}).Where("id = ?", entry.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	resp, err := f.svc.List(adminCtx(), vaultdomain.ListEntryRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Entries)
}

func TestClientListIsScoped(t *testing.T) {
	f := newFixture(t)
	f.create(t)

	resp, err := f.svc.List(f.clientCtx(), vaultdomain.ListEntryRequest{ClientID: "123"})
	require.NoError(t, err)
	assert.Len(t, resp.Entries, 1)

	stranger := actorcontext.WithActor(context.Background(), actorcontext.Actor{Kind: actorcontext.KindClient, ID: 4, ClientID: 999})
	resp, err = f.svc.List(stranger, vaultdomain.ListEntryRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Entries)
}

func TestRevealIsThrottledPerActor(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := ratelimit.NewRevealLimiter(client, config.Config{VaultRevealPerMinute: 1, VaultRevealBurst: 1})
	f := newFixtureWithLimiter(t, limiter)
	entry := f.create(t)

	_, err := f.svc.Reveal(adminCtx(), entry.ID.String())
	require.NoError(t, err)

	_, err = f.svc.Reveal(adminCtx(), entry.ID.String())
	assert.ErrorIs(t, err, vaultdomain.ErrRevealRateLimited)

	var reveals int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Where("action = ?", "vault.reveal").Count(&reveals).Error)
	assert.EqualValues(t, 1, reveals)
}
