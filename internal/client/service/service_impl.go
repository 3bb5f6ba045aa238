package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	"github.com/smallbiznis/backoffice/internal/authorization"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/pkg/db"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"github.com/smallbiznis/backoffice/pkg/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Authz authorization.Service
	Repo  clientdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	authz authorization.Service
	repo  clientdomain.Repository
}

func NewService(p Params) clientdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("client.service"),
		genID: p.GenID,
		clock: p.Clock,
		authz: p.Authz,
		repo:  p.Repo,
	}
}

func (s *Service) CreateClient(ctx context.Context, req clientdomain.CreateClientRequest) (clientdomain.Client, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return clientdomain.Client{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return clientdomain.Client{}, clientdomain.ErrInvalidName
	}
	var email *string
	if trimmed := normalizeEmail(req.Email); trimmed != "" {
		if !strings.Contains(trimmed, "@") {
			return clientdomain.Client{}, clientdomain.ErrInvalidEmail
		}
		email = &trimmed
	}

	now := s.clock.Now()
	client := clientdomain.Client{
		ID:        s.genID.Generate(),
		Name:      name,
		Email:     email,
		Status:    clientdomain.ClientStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertClient(ctx, s.db, &client); err != nil {
		return clientdomain.Client{}, err
	}
	return client, nil
}

func (s *Service) GetClient(ctx context.Context, id string) (clientdomain.Client, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return clientdomain.Client{}, err
	}
	clientID, err := parseID(id, clientdomain.ErrInvalidClient)
	if err != nil {
		return clientdomain.Client{}, err
	}
	if actor.IsClient() && actor.ClientID != clientID {
		return clientdomain.Client{}, clientdomain.ErrClientNotFound
	}

	client, err := s.repo.FindClientByID(ctx, s.db, clientID)
	if err != nil {
		return clientdomain.Client{}, err
	}
	if client == nil {
		return clientdomain.Client{}, clientdomain.ErrClientNotFound
	}
	return *client, nil
}

func (s *Service) ListClients(ctx context.Context, req clientdomain.ListClientRequest) (clientdomain.ListClientResponse, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return clientdomain.ListClientResponse{}, err
	}
	afterID, err := req.AfterID()
	if err != nil {
		return clientdomain.ListClientResponse{}, err
	}
	limit := req.Limit()
	items, err := s.repo.ListClients(ctx, s.db, clientdomain.ListClientFilter{
		Status:  req.Status,
		AfterID: afterID,
		Limit:   limit,
	})
	if err != nil {
		return clientdomain.ListClientResponse{}, err
	}
	items, pageInfo, err := pagination.Page(items, limit, func(c *clientdomain.Client) int64 { return c.ID.Int64() })
	if err != nil {
		return clientdomain.ListClientResponse{}, err
	}
	return clientdomain.ListClientResponse{PageInfo: pageInfo, Clients: items}, nil
}

func (s *Service) CreateDomain(ctx context.Context, req clientdomain.CreateDomainRequest) (clientdomain.Domain, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return clientdomain.Domain{}, err
	}
	clientID, err := parseID(req.ClientID, clientdomain.ErrInvalidClient)
	if err != nil {
		return clientdomain.Domain{}, err
	}
	hostname := strings.ToLower(strings.TrimSpace(req.Hostname))
	if hostname == "" || strings.ContainsAny(hostname, " /") {
		return clientdomain.Domain{}, clientdomain.ErrInvalidHostname
	}

	client, err := s.repo.FindClientByID(ctx, s.db, clientID)
	if err != nil {
		return clientdomain.Domain{}, err
	}
	if client == nil {
		return clientdomain.Domain{}, clientdomain.ErrClientNotFound
	}

	now := s.clock.Now()
	d := clientdomain.Domain{
		ID:        s.genID.Generate(),
		ClientID:  client.ID,
		Hostname:  hostname,
		Status:    clientdomain.DomainStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertDomain(ctx, s.db, &d); err != nil {
		return clientdomain.Domain{}, err
	}
	return d, nil
}

func (s *Service) GetDomain(ctx context.Context, id string) (clientdomain.Domain, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return clientdomain.Domain{}, err
	}
	domainID, err := parseID(id, clientdomain.ErrInvalidDomain)
	if err != nil {
		return clientdomain.Domain{}, err
	}
	d, err := s.repo.FindDomainByID(ctx, s.db, domainID)
	if err != nil {
		return clientdomain.Domain{}, err
	}
	if d == nil || (actor.IsClient() && d.ClientID != actor.ClientID) {
		return clientdomain.Domain{}, clientdomain.ErrDomainNotFound
	}
	return *d, nil
}

func (s *Service) ListDomains(ctx context.Context, clientID string) ([]*clientdomain.Domain, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return nil, err
	}
	id, err := parseID(clientID, clientdomain.ErrInvalidClient)
	if err != nil {
		return nil, err
	}
	if actor.IsClient() && actor.ClientID != id {
		return nil, clientdomain.ErrClientNotFound
	}
	return s.repo.ListDomains(ctx, s.db, id)
}

func (s *Service) DeleteDomain(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return err
	}
	domainID, err := parseID(id, clientdomain.ErrInvalidDomain)
	if err != nil {
		return err
	}
	d, err := s.repo.FindDomainByID(ctx, s.db, domainID)
	if err != nil {
		return err
	}
	if d == nil {
		return clientdomain.ErrDomainNotFound
	}
	return s.repo.SoftDeleteDomain(ctx, s.db, domainID)
}

func (s *Service) ProvisionMissingUsers(ctx context.Context) (clientdomain.ProvisionSummary, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return clientdomain.ProvisionSummary{}, err
	}

	clients, err := s.repo.ListClientsWithoutUser(ctx, s.db)
	if err != nil {
		return clientdomain.ProvisionSummary{}, err
	}

	logger := log.With(ctx, s.log)
	summary := clientdomain.ProvisionSummary{}
	for _, client := range clients {
		summary.Processed++
		if err := s.provisionUser(ctx, client); err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, clientdomain.ProvisionFailure{ClientID: client.ID, Err: err})
			logger.Warn("client user provisioning skipped",
				zap.String("client_id", client.ID.String()),
				zap.Error(err),
			)
			continue
		}
		summary.Created++
	}

	logger.Info("client user provisioning finished",
		zap.Int("processed", summary.Processed),
		zap.Int("created", summary.Created),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (s *Service) provisionUser(ctx context.Context, client *clientdomain.Client) error {
	if client.Email == nil || normalizeEmail(*client.Email) == "" {
		return &clientdomain.ValidationError{Field: "email", Reason: "is required"}
	}
	email := normalizeEmail(*client.Email)

	token := uuid.NewString()
	clientID := client.ID
	user := clientdomain.User{
		ID:          s.genID.Generate(),
		ClientID:    &clientID,
		Email:       email,
		Name:        client.Name,
		Role:        clientdomain.UserRoleClient,
		InviteToken: &token,
		CreatedAt:   s.clock.Now(),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertUser(ctx, tx, &user); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return clientdomain.ErrEmailTaken
			}
			return err
		}
		linked, err := s.repo.LinkUser(ctx, tx, client.ID, user.ID)
		if err != nil {
			return err
		}
		if linked == 0 {
			return clientdomain.ErrAlreadyProvisioned
		}
		return nil
	})
}

func (s *Service) authorize(ctx context.Context, action string) (actorcontext.Actor, error) {
	actor, err := actorcontext.Require(ctx)
	if err != nil {
		return actorcontext.Actor{}, err
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectClient, action); err != nil {
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

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
