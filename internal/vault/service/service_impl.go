package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	auditdomain "github.com/smallbiznis/backoffice/internal/audit/domain"
	"github.com/smallbiznis/backoffice/internal/authorization"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/internal/observability/metrics"
	"github.com/smallbiznis/backoffice/internal/ratelimit"
	vaultdomain "github.com/smallbiznis/backoffice/internal/vault/domain"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"github.com/smallbiznis/backoffice/pkg/log"
	"github.com/smallbiznis/backoffice/pkg/sealer"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Authz      authorization.Service
	Repo       vaultdomain.Repository
	ClientRepo clientdomain.Repository
	Sealer     *sealer.Sealer
	AuditSvc   auditdomain.Service
	Metrics    *metrics.BillingMetrics  `optional:"true"`
	Limiter    *ratelimit.RevealLimiter `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	authz      authorization.Service
	repo       vaultdomain.Repository
	clientRepo clientdomain.Repository
	sealer     *sealer.Sealer
	auditSvc   auditdomain.Service
	metrics    *metrics.BillingMetrics
	limiter    *ratelimit.RevealLimiter
}

func NewService(p Params) vaultdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("vault.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		authz:      p.Authz,
		repo:       p.Repo,
		clientRepo: p.ClientRepo,
		sealer:     p.Sealer,
		auditSvc:   p.AuditSvc,
		metrics:    p.Metrics,
		limiter:    p.Limiter,
	}
}

func (s *Service) Create(ctx context.Context, req vaultdomain.CreateEntryRequest) (vaultdomain.Entry, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return vaultdomain.Entry{}, err
	}
	clientID, err := parseID(req.ClientID, vaultdomain.ErrInvalidClient)
	if err != nil {
		return vaultdomain.Entry{}, err
	}
	service := strings.TrimSpace(req.Service)
	if service == "" {
		return vaultdomain.Entry{}, vaultdomain.ErrInvalidService
	}
	if req.Secret == "" {
		return vaultdomain.Entry{}, vaultdomain.ErrInvalidSecret
	}

	client, err := s.clientRepo.FindClientByID(ctx, s.db, clientID)
	if err != nil {
		return vaultdomain.Entry{}, err
	}
	if client == nil {
		return vaultdomain.Entry{}, clientdomain.ErrClientNotFound
	}
	var domainID *snowflake.ID
	if strings.TrimSpace(req.DomainID) != "" {
		id, err := s.ownedDomain(ctx, client.ID, req.DomainID)
		if err != nil {
			return vaultdomain.Entry{}, err
		}
		domainID = &id
	}

	now := s.clock.Now()
	entry := vaultdomain.Entry{
		ID:        s.genID.Generate(),
		ClientID:  client.ID,
		DomainID:  domainID,
		Service:   service,
		Login:     strings.TrimSpace(req.Login),
		URL:       strings.TrimSpace(req.URL),
		Notes:     strings.TrimSpace(req.Notes),
		Status:    vaultdomain.EntryStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	entry.SealedSecret, err = s.sealer.Seal([]byte(req.Secret), entry.AAD())
	if err != nil {
		return vaultdomain.Entry{}, err
	}
	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		return vaultdomain.Entry{}, err
	}

	s.audit(ctx, entry, "vault.create", nil)
	return entry, nil
}

func (s *Service) Update(ctx context.Context, req vaultdomain.UpdateEntryRequest) (vaultdomain.Entry, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return vaultdomain.Entry{}, err
	}
	entryID, err := parseID(req.ID, vaultdomain.ErrInvalidEntry)
	if err != nil {
		return vaultdomain.Entry{}, err
	}
	entry, err := s.repo.FindByID(ctx, s.db, entryID)
	if err != nil {
		return vaultdomain.Entry{}, err
	}
	if entry == nil {
		return vaultdomain.Entry{}, vaultdomain.ErrEntryNotFound
	}

	rotated := false
	if req.Service != nil {
		service := strings.TrimSpace(*req.Service)
		if service == "" {
			return vaultdomain.Entry{}, vaultdomain.ErrInvalidService
		}
		entry.Service = service
	}
	if req.Login != nil {
		entry.Login = strings.TrimSpace(*req.Login)
	}
	if req.URL != nil {
		entry.URL = strings.TrimSpace(*req.URL)
	}
	if req.Notes != nil {
		entry.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.Status != nil {
		switch *req.Status {
		case vaultdomain.EntryStatusActive, vaultdomain.EntryStatusInactive:
			entry.Status = *req.Status
		default:
			return vaultdomain.Entry{}, vaultdomain.ErrInvalidStatus
		}
	}
	if req.Secret != nil {
		if *req.Secret == "" {
			return vaultdomain.Entry{}, vaultdomain.ErrInvalidSecret
		}
		entry.SealedSecret, err = s.sealer.Seal([]byte(*req.Secret), entry.AAD())
		if err != nil {
			return vaultdomain.Entry{}, err
		}
		rotated = true
	}
	entry.UpdatedAt = s.clock.Now()

	if err := s.repo.Update(ctx, s.db, entry); err != nil {
		return vaultdomain.Entry{}, err
	}
	s.audit(ctx, *entry, "vault.update", map[string]any{"secret_rotated": rotated})
	return *entry, nil
}

func (s *Service) Get(ctx context.Context, id string) (vaultdomain.Entry, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return vaultdomain.Entry{}, err
	}
	entry, err := s.find(ctx, actor, id)
	if err != nil {
		return vaultdomain.Entry{}, err
	}
	return *entry, nil
}

func (s *Service) List(ctx context.Context, req vaultdomain.ListEntryRequest) (vaultdomain.ListEntryResponse, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return vaultdomain.ListEntryResponse{}, err
	}
	afterID, err := req.AfterID()
	if err != nil {
		return vaultdomain.ListEntryResponse{}, err
	}
	filter := vaultdomain.ListFilter{
		Status:  req.Status,
		AfterID: afterID,
		Limit:   req.Limit(),
	}
	if actor.IsClient() {
		clientID := actor.ClientID
		filter.ClientID = &clientID
	} else if strings.TrimSpace(req.ClientID) != "" {
		clientID, err := parseID(req.ClientID, vaultdomain.ErrInvalidClient)
		if err != nil {
			return vaultdomain.ListEntryResponse{}, err
		}
		filter.ClientID = &clientID
	}
	if strings.TrimSpace(req.DomainID) != "" {
		domainID, err := parseID(req.DomainID, vaultdomain.ErrInvalidDomain)
		if err != nil {
			return vaultdomain.ListEntryResponse{}, err
		}
		filter.DomainID = &domainID
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return vaultdomain.ListEntryResponse{}, err
	}
	items, pageInfo, err := pagination.Page(items, filter.Limit, func(e *vaultdomain.Entry) int64 { return e.ID.Int64() })
	if err != nil {
		return vaultdomain.ListEntryResponse{}, err
	}
	return vaultdomain.ListEntryResponse{PageInfo: pageInfo, Entries: items}, nil
}

func (s *Service) Reveal(ctx context.Context, id string) (vaultdomain.RevealedSecret, error) {
	actor, err := s.authorize(ctx, authorization.ActionVaultReveal)
	if err != nil {
		return vaultdomain.RevealedSecret{}, err
	}
	entry, err := s.find(ctx, actor, id)
	if err != nil {
		return vaultdomain.RevealedSecret{}, err
	}
	if err := s.limiter.Allow(ctx, string(actor.Kind)+":"+actor.ID.String()); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			log.With(ctx, s.log).Warn("vault reveal throttled",
				zap.String("entry_id", entry.ID.String()),
				zap.String("actor_id", actor.ID.String()),
			)
			return vaultdomain.RevealedSecret{}, vaultdomain.ErrRevealRateLimited
		}
		return vaultdomain.RevealedSecret{}, err
	}

	revealed := vaultdomain.RevealedSecret{EntryID: entry.ID}
	plain, err := s.sealer.Open(entry.SealedSecret, entry.AAD())
	switch {
	case errors.Is(err, sealer.ErrDecryption):
		revealed.Redacted = true
		s.metrics.IncDecryptFailure()
		log.With(ctx, s.log).Warn("vault secret could not be decrypted",
			zap.String("entry_id", entry.ID.String()),
			zap.String("client_id", entry.ClientID.String()),
		)
	case err != nil:
		return vaultdomain.RevealedSecret{}, err
	default:
		revealed.Secret = string(plain)
	}

	s.audit(ctx, *entry, "vault.reveal", map[string]any{"redacted": revealed.Redacted})
	return revealed, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return err
	}
	entryID, err := parseID(id, vaultdomain.ErrInvalidEntry)
	if err != nil {
		return err
	}
	entry, err := s.repo.FindByID(ctx, s.db, entryID)
	if err != nil {
		return err
	}
	if entry == nil {
		return vaultdomain.ErrEntryNotFound
	}
	deleted, err := s.repo.SoftDelete(ctx, s.db, entry.ID, s.clock.Now())
	if err != nil {
		return err
	}
	if !deleted {
		return vaultdomain.ErrEntryNotFound
	}
	s.audit(ctx, *entry, "vault.delete", nil)
	return nil
}

func (s *Service) find(ctx context.Context, actor actorcontext.Actor, id string) (*vaultdomain.Entry, error) {
	entryID, err := parseID(id, vaultdomain.ErrInvalidEntry)
	if err != nil {
		return nil, err
	}
	entry, err := s.repo.FindByID(ctx, s.db, entryID)
	if err != nil {
		return nil, err
	}
	if entry == nil || (actor.IsClient() && entry.ClientID != actor.ClientID) {
		return nil, vaultdomain.ErrEntryNotFound
	}
	return entry, nil
}

func (s *Service) ownedDomain(ctx context.Context, clientID snowflake.ID, raw string) (snowflake.ID, error) {
	domainID, err := parseID(raw, vaultdomain.ErrInvalidDomain)
	if err != nil {
		return 0, err
	}
	domain, err := s.clientRepo.FindDomainByID(ctx, s.db, domainID)
	if err != nil {
		return 0, err
	}
	if domain == nil || domain.ClientID != clientID {
		return 0, clientdomain.ErrDomainNotFound
	}
	return domain.ID, nil
}

func (s *Service) audit(ctx context.Context, entry vaultdomain.Entry, action string, extra map[string]any) {
	targetID := entry.ID.String()
	clientID := entry.ClientID
	metadata := map[string]any{"service": entry.Service}
	for k, v := range extra {
		metadata[k] = v
	}
	if err := s.auditSvc.AuditLog(ctx, &clientID, action, "vault_entry", &targetID, metadata); err != nil {
		log.With(ctx, s.log).Warn("failed to write vault audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) authorize(ctx context.Context, action string) (actorcontext.Actor, error) {
	actor, err := actorcontext.Require(ctx)
	if err != nil {
		return actorcontext.Actor{}, err
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectVault, action); err != nil {
		return actorcontext.Actor{}, err
	}
	return actor, nil
}

func parseID(value string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}
