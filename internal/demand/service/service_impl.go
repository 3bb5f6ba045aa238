package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	"github.com/smallbiznis/backoffice/internal/authorization"
	"github.com/smallbiznis/backoffice/internal/billing"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	"github.com/smallbiznis/backoffice/internal/clock"
	demanddomain "github.com/smallbiznis/backoffice/internal/demand/domain"
	notificationdomain "github.com/smallbiznis/backoffice/internal/notification/domain"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
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
	Repo       demanddomain.Repository
	ClientRepo clientdomain.Repository
	Engine     billing.Engine
	Notifier   notificationdomain.Dispatcher
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	authz      authorization.Service
	repo       demanddomain.Repository
	clientRepo clientdomain.Repository
	engine     billing.Engine
	notifier   notificationdomain.Dispatcher
}

func NewService(p Params) demanddomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("demand.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		authz:      p.Authz,
		repo:       p.Repo,
		clientRepo: p.ClientRepo,
		engine:     p.Engine,
		notifier:   p.Notifier,
	}
}

func (s *Service) Create(ctx context.Context, req demanddomain.CreateDemandRequest) (demanddomain.Demand, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return demanddomain.Demand{}, err
	}
	domainID, err := parseID(req.DomainID, demanddomain.ErrInvalidDomain)
	if err != nil {
		return demanddomain.Demand{}, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return demanddomain.Demand{}, demanddomain.ErrInvalidTitle
	}
	if req.Hours.IsNegative() {
		return demanddomain.Demand{}, demanddomain.ErrInvalidHours
	}

	d, err := s.clientRepo.FindDomainByID(ctx, s.db, domainID)
	if err != nil {
		return demanddomain.Demand{}, err
	}
	if d == nil {
		return demanddomain.Demand{}, clientdomain.ErrDomainNotFound
	}

	demand := demanddomain.NewPendingDemand(s.genID.Generate(), d.ID, d.ClientID, title, strings.TrimSpace(req.Description), req.Hours, s.clock.Now())
	if err := s.repo.Insert(ctx, s.db, &demand); err != nil {
		return demanddomain.Demand{}, err
	}

	log.With(ctx, s.log).Info("demand created",
		zap.String("demand_id", demand.ID.String()),
		zap.String("domain_id", demand.DomainID.String()),
	)
	return demand, nil
}

func (s *Service) Update(ctx context.Context, req demanddomain.UpdateDemandRequest) (demanddomain.Demand, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return demanddomain.Demand{}, err
	}
	demandID, err := parseID(req.ID, demanddomain.ErrInvalidDemand)
	if err != nil {
		return demanddomain.Demand{}, err
	}

	var updated demanddomain.Demand
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		demand, err := s.repo.FindByIDForUpdate(ctx, tx, demandID)
		if err != nil {
			return err
		}
		if demand == nil {
			return demanddomain.ErrDemandNotFound
		}
		if !demand.Editable() {
			return demanddomain.ErrDemandLocked
		}
		if req.Title != nil {
			title := strings.TrimSpace(*req.Title)
			if title == "" {
				return demanddomain.ErrInvalidTitle
			}
			demand.Title = title
		}
		if req.Description != nil {
			demand.Description = strings.TrimSpace(*req.Description)
		}
		if req.Hours != nil {
			if req.Hours.IsNegative() {
				return demanddomain.ErrInvalidHours
			}
			demand.Hours = req.Hours.Round(2)
		}
		demand.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateDetails(ctx, tx, demand); err != nil {
			return err
		}
		updated = *demand
		return nil
	})
	if err != nil {
		return demanddomain.Demand{}, err
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id string) (demanddomain.Demand, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return demanddomain.Demand{}, err
	}
	demandID, err := parseID(id, demanddomain.ErrInvalidDemand)
	if err != nil {
		return demanddomain.Demand{}, err
	}
	demand, err := s.repo.FindByID(ctx, s.db, demandID)
	if err != nil {
		return demanddomain.Demand{}, err
	}
	if demand == nil || (actor.IsClient() && demand.ClientID != actor.ClientID) {
		return demanddomain.Demand{}, demanddomain.ErrDemandNotFound
	}
	return *demand, nil
}

func (s *Service) List(ctx context.Context, req demanddomain.ListDemandRequest) (demanddomain.ListDemandResponse, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return demanddomain.ListDemandResponse{}, err
	}
	afterID, err := req.AfterID()
	if err != nil {
		return demanddomain.ListDemandResponse{}, err
	}

	filter := demanddomain.ListFilter{
		Status:  req.Status,
		Billed:  req.Billed,
		AfterID: afterID,
		Limit:   req.Limit(),
	}
	if actor.IsClient() {
		clientID := actor.ClientID
		filter.ClientID = &clientID
	}
	if strings.TrimSpace(req.DomainID) != "" {
		domainID, err := parseID(req.DomainID, demanddomain.ErrInvalidDomain)
		if err != nil {
			return demanddomain.ListDemandResponse{}, err
		}
		filter.DomainID = &domainID
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return demanddomain.ListDemandResponse{}, err
	}
	items, pageInfo, err := pagination.Page(items, filter.Limit, func(d *demanddomain.Demand) int64 { return d.ID.Int64() })
	if err != nil {
		return demanddomain.ListDemandResponse{}, err
	}
	return demanddomain.ListDemandResponse{PageInfo: pageInfo, Demands: items}, nil
}

func (s *Service) Start(ctx context.Context, id string) (demanddomain.Demand, error) {
	return s.transition(ctx, id, demanddomain.DemandStatusInProgress)
}

func (s *Service) Approve(ctx context.Context, id string) (demanddomain.Demand, error) {
	if _, err := s.authorize(ctx, authorization.ActionDemandApprove); err != nil {
		return demanddomain.Demand{}, err
	}
	demandID, err := parseID(id, demanddomain.ErrInvalidDemand)
	if err != nil {
		return demanddomain.Demand{}, err
	}

	var approved demanddomain.Demand
	err = subscriptiondomain.RetryOnConflict(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			demand, err := s.repo.FindByIDForUpdate(ctx, tx, demandID)
			if err != nil {
				return err
			}
			if demand == nil {
				return demanddomain.ErrDemandNotFound
			}
			if demand.Billed {
				return billing.ErrAlreadyBilled
			}
			if !demand.Hours.IsPositive() {
				return demanddomain.ErrInvalidHours
			}
			if err := demand.TransitionTo(demanddomain.DemandStatusInApproval); err != nil {
				return err
			}
			if err := s.engine.Charge(ctx, tx, demand); err != nil {
				return err
			}
			saved, err := s.repo.SaveBilling(ctx, tx, demand)
			if err != nil {
				return fmt.Errorf("save demand billing: %w", err)
			}
			if !saved {
				return billing.ErrAlreadyBilled
			}
			approved = *demand
			return nil
		})
	})
	if err != nil {
		return demanddomain.Demand{}, err
	}

	log.With(ctx, s.log).Info("demand approved",
		zap.String("demand_id", approved.ID.String()),
		zap.String("value", approved.Value.StringFixed(2)),
		zap.String("overage_value", approved.OverageValue.StringFixed(2)),
	)
	s.notifyClient(ctx, approved, notificationdomain.TypeDemandApproved,
		"Demand approved",
		fmt.Sprintf("%q was approved: %s hours, %s charged.", approved.Title, approved.Hours.String(), approved.Value.StringFixed(2)),
	)
	return approved, nil
}

func (s *Service) Complete(ctx context.Context, id string) (demanddomain.Demand, error) {
	demand, err := s.transition(ctx, id, demanddomain.DemandStatusCompleted)
	if err != nil {
		return demanddomain.Demand{}, err
	}
	s.notifyAdmins(ctx, demand, notificationdomain.TypeDemandCompleted,
		"Demand completed",
		fmt.Sprintf("%q was completed.", demand.Title),
	)
	return demand, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (demanddomain.Demand, error) {
	demand, err := s.transition(ctx, id, demanddomain.DemandStatusCanceled)
	if err != nil {
		return demanddomain.Demand{}, err
	}
	msg := fmt.Sprintf("%q was canceled.", demand.Title)
	s.notifyClient(ctx, demand, notificationdomain.TypeDemandCanceled, "Demand canceled", msg)
	s.notifyAdmins(ctx, demand, notificationdomain.TypeDemandCanceled, "Demand canceled", msg)
	return demand, nil
}

func (s *Service) transition(ctx context.Context, id string, next demanddomain.DemandStatus) (demanddomain.Demand, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return demanddomain.Demand{}, err
	}
	demandID, err := parseID(id, demanddomain.ErrInvalidDemand)
	if err != nil {
		return demanddomain.Demand{}, err
	}

	var updated demanddomain.Demand
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		demand, err := s.repo.FindByIDForUpdate(ctx, tx, demandID)
		if err != nil {
			return err
		}
		if demand == nil {
			return demanddomain.ErrDemandNotFound
		}
		from := demand.Status
		if err := demand.TransitionTo(next); err != nil {
			log.With(ctx, s.log).Info("demand transition rejected",
				zap.String("demand_id", demand.ID.String()),
				zap.String("from", string(from)),
				zap.String("to", string(next)),
			)
			return err
		}
		demand.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateStatus(ctx, tx, demand.ID, demand.Status, demand.UpdatedAt); err != nil {
			return err
		}
		updated = *demand
		return nil
	})
	if err != nil {
		return demanddomain.Demand{}, err
	}
	return updated, nil
}

func (s *Service) notifyClient(ctx context.Context, demand demanddomain.Demand, typ notificationdomain.NotificationType, title, body string) {
	demandID := demand.ID
	err := s.notifier.NotifyClient(ctx, demand.ClientID, notificationdomain.Message{
		Type:     typ,
		Title:    title,
		Body:     body,
		DemandID: &demandID,
	})
	if err != nil {
		log.With(ctx, s.log).Warn("client notification failed",
			zap.String("demand_id", demand.ID.String()),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}

func (s *Service) notifyAdmins(ctx context.Context, demand demanddomain.Demand, typ notificationdomain.NotificationType, title, body string) {
	demandID := demand.ID
	err := s.notifier.NotifyAdmins(ctx, notificationdomain.Message{
		Type:     typ,
		Title:    title,
		Body:     body,
		DemandID: &demandID,
	})
	if err != nil {
		log.With(ctx, s.log).Warn("admin notification failed",
			zap.String("demand_id", demand.ID.String()),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
	}
}

func (s *Service) authorize(ctx context.Context, action string) (actorcontext.Actor, error) {
	actor, err := actorcontext.Require(ctx)
	if err != nil {
		return actorcontext.Actor{}, err
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectDemand, action); err != nil {
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
