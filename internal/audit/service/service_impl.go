package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	auditdomain "github.com/smallbiznis/backoffice/internal/audit/domain"
	"github.com/smallbiznis/backoffice/internal/audit/masking"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"github.com/smallbiznis/backoffice/pkg/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// sensitiveKeys are masked before metadata is persisted.
var sensitiveKeys = map[string]struct{}{
	"login":        {},
	"secret":       {},
	"invite_token": {},
}

func (s *Service) AuditLog(ctx context.Context, clientID *snowflake.ID, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := resolveActor(ctx)
	if clientID == nil {
		if actor, ok := actorcontext.FromContext(ctx); ok && actor.ClientID != 0 {
			clientID = &actor.ClientID
		}
	}

	payload := map[string]any{}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		if _, ok := sensitiveKeys[key]; ok {
			if str, isStr := value.(string); isStr {
				value = masking.MaskSecret(str)
			}
		}
		payload[key] = value
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		ClientID:   clientID,
		Action:     action,
		TargetType: targetType,
		TargetID:   normalizePointer(targetID),
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		log.With(ctx, s.log).Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	afterID, err := req.AfterID()
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
	}
	limit := req.Limit()

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		ClientID:   req.ClientID,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		AfterID:    afterID,
		Limit:      limit,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	items, pageInfo, err := pagination.Page(items, limit, func(item *auditdomain.AuditLog) int64 {
		return item.ID.Int64()
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	return auditdomain.ListAuditLogResponse{PageInfo: pageInfo, AuditLogs: items}, nil
}

func resolveActor(ctx context.Context) (string, *string) {
	actor, ok := actorcontext.FromContext(ctx)
	if !ok {
		return string(auditdomain.ActorTypeSystem), nil
	}
	if actor.ID == 0 {
		return string(actor.Kind), nil
	}
	id := actor.ID.String()
	return string(actor.Kind), &id
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
