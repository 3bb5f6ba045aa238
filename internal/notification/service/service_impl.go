package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	"github.com/smallbiznis/backoffice/internal/authorization"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	"github.com/smallbiznis/backoffice/internal/clock"
	notificationdomain "github.com/smallbiznis/backoffice/internal/notification/domain"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"github.com/smallbiznis/backoffice/pkg/log"
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
	Repo       notificationdomain.Repository
	ClientRepo clientdomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	authz      authorization.Service
	repo       notificationdomain.Repository
	clientRepo clientdomain.Repository
}

func NewService(p Params) notificationdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("notification.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		authz:      p.Authz,
		repo:       p.Repo,
		clientRepo: p.ClientRepo,
	}
}

// NewDispatcher exposes the write side to lifecycle services.
func NewDispatcher(svc notificationdomain.Service) notificationdomain.Dispatcher {
	return svc
}

func (s *Service) NotifyAdmins(ctx context.Context, msg notificationdomain.Message) error {
	admins, err := s.clientRepo.ListAdminUsers(ctx, s.db)
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		log.With(ctx, s.log).Debug("no admin users to notify", zap.String("type", string(msg.Type)))
		return nil
	}

	now := s.clock.Now()
	items := make([]*notificationdomain.Notification, 0, len(admins))
	for _, admin := range admins {
		userID := admin.ID
		n := s.build(msg, now)
		n.UserID = &userID
		if err := n.Validate(); err != nil {
			return err
		}
		items = append(items, n)
	}
	if err := s.repo.Insert(ctx, s.db, items); err != nil {
		return err
	}

	log.With(ctx, s.log).Debug("admin notification recorded",
		zap.String("type", string(msg.Type)),
		zap.Int("recipients", len(items)),
	)
	return nil
}

func (s *Service) NotifyClient(ctx context.Context, clientID snowflake.ID, msg notificationdomain.Message) error {
	n := s.build(msg, s.clock.Now())
	n.ClientID = &clientID
	if err := n.Validate(); err != nil {
		return err
	}
	return s.repo.Insert(ctx, s.db, []*notificationdomain.Notification{n})
}

func (s *Service) ListForActor(ctx context.Context, req notificationdomain.ListNotificationRequest) (notificationdomain.ListNotificationResponse, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return notificationdomain.ListNotificationResponse{}, err
	}
	afterID, err := req.AfterID()
	if err != nil {
		return notificationdomain.ListNotificationResponse{}, err
	}
	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, notificationdomain.ListFilter{
		Recipient:       recipientFor(actor),
		UnreadOnly:      req.UnreadOnly,
		IncludeArchived: req.IncludeArchived,
		AfterID:         afterID,
		Limit:           limit,
	})
	if err != nil {
		return notificationdomain.ListNotificationResponse{}, err
	}
	items, pageInfo, err := pagination.Page(items, limit, func(n *notificationdomain.Notification) int64 { return n.ID.Int64() })
	if err != nil {
		return notificationdomain.ListNotificationResponse{}, err
	}
	return notificationdomain.ListNotificationResponse{PageInfo: pageInfo, Notifications: items}, nil
}

func (s *Service) MarkRead(ctx context.Context, id string) (notificationdomain.Notification, error) {
	n, err := s.loadOwned(ctx, id)
	if err != nil {
		return notificationdomain.Notification{}, err
	}
	if n.Read {
		return *n, nil
	}
	now := s.clock.Now()
	if err := s.repo.MarkRead(ctx, s.db, n.ID, now); err != nil {
		return notificationdomain.Notification{}, err
	}
	n.Read = true
	n.UpdatedAt = now
	return *n, nil
}

func (s *Service) Archive(ctx context.Context, id string) (notificationdomain.Notification, error) {
	n, err := s.loadOwned(ctx, id)
	if err != nil {
		return notificationdomain.Notification{}, err
	}
	if n.Status == notificationdomain.NotificationStatusArchived {
		return *n, nil
	}
	now := s.clock.Now()
	if err := s.repo.Archive(ctx, s.db, n.ID, now); err != nil {
		return notificationdomain.Notification{}, err
	}
	n.Status = notificationdomain.NotificationStatusArchived
	n.Read = true
	n.UpdatedAt = now
	return *n, nil
}

func (s *Service) CountUnread(ctx context.Context) (int64, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, s.db, recipientFor(actor))
}

func (s *Service) loadOwned(ctx context.Context, id string) (*notificationdomain.Notification, error) {
	actor, err := s.authorize(ctx, authorization.ActionManage)
	if err != nil {
		return nil, err
	}
	notificationID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || notificationID == 0 {
		return nil, notificationdomain.ErrInvalidNotification
	}
	n, err := s.repo.FindByID(ctx, s.db, notificationID)
	if err != nil {
		return nil, err
	}
	if n == nil || !ownedBy(n, actor) {
		return nil, notificationdomain.ErrNotificationNotFound
	}
	return n, nil
}

func (s *Service) build(msg notificationdomain.Message, now time.Time) *notificationdomain.Notification {
	return &notificationdomain.Notification{
		ID:        s.genID.Generate(),
		DemandID:  msg.DemandID,
		Type:      msg.Type,
		Title:     strings.TrimSpace(msg.Title),
		Message:   strings.TrimSpace(msg.Body),
		Status:    notificationdomain.NotificationStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) authorize(ctx context.Context, action string) (actorcontext.Actor, error) {
	actor, err := actorcontext.Require(ctx)
	if err != nil {
		return actorcontext.Actor{}, err
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectNotification, action); err != nil {
		return actorcontext.Actor{}, err
	}
	return actor, nil
}

func recipientFor(actor actorcontext.Actor) notificationdomain.Recipient {
	if actor.IsClient() {
		clientID := actor.ClientID
		return notificationdomain.Recipient{ClientID: &clientID}
	}
	userID := actor.ID
	return notificationdomain.Recipient{UserID: &userID}
}

func ownedBy(n *notificationdomain.Notification, actor actorcontext.Actor) bool {
	if actor.IsClient() {
		return n.ClientID != nil && *n.ClientID == actor.ClientID
	}
	return n.UserID != nil && *n.UserID == actor.ID
}
