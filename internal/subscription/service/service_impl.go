package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	"github.com/smallbiznis/backoffice/internal/authorization"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	"github.com/smallbiznis/backoffice/internal/clock"
	plandomain "github.com/smallbiznis/backoffice/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
	"github.com/smallbiznis/backoffice/pkg/db"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"github.com/smallbiznis/backoffice/pkg/log"
	"github.com/smallbiznis/backoffice/pkg/repository"
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
	Repo       subscriptiondomain.Repository
	ClientRepo clientdomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	authz      authorization.Service
	repo       subscriptiondomain.Repository
	clientRepo clientdomain.Repository
	planRepo   repository.Repository[plandomain.Plan]
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		authz:      p.Authz,
		repo:       p.Repo,
		clientRepo: p.ClientRepo,
		planRepo:   repository.ProvideStore[plandomain.Plan](p.DB),
	}
}

func (s *Service) Subscribe(ctx context.Context, req subscriptiondomain.SubscribeRequest) (subscriptiondomain.Subscription, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	domainID, err := parseID(req.DomainID, subscriptiondomain.ErrInvalidDomain)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	planID, err := parseID(req.PlanID, subscriptiondomain.ErrInvalidPlan)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	now := s.clock.Now()
	startDate := now
	if req.StartDate != nil && !req.StartDate.IsZero() {
		startDate = req.StartDate.UTC()
	}

	var created subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := s.clientRepo.FindDomainByID(ctx, tx, domainID)
		if err != nil {
			return err
		}
		if d == nil {
			return clientdomain.ErrDomainNotFound
		}

		plan, err := s.planRepo.WithTrx(tx).FindOne(ctx, &plandomain.Plan{ID: planID})
		if err != nil {
			return err
		}
		if plan == nil {
			return plandomain.ErrPlanNotFound
		}
		if plan.Status != plandomain.PlanStatusActive {
			return subscriptiondomain.ErrPlanNotActive
		}

		existing, err := s.repo.FindActiveByDomainIDForUpdate(ctx, tx, domainID)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrActiveSubscriptionExists
		}

		created = subscriptiondomain.Subscription{
			ID:             s.genID.Generate(),
			ClientID:       d.ClientID,
			DomainID:       d.ID,
			PlanID:         plan.ID,
			RemainingHours: plan.Allowance(),
			Status:         subscriptiondomain.SubscriptionStatusActive,
			StartDate:      startDate,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.Insert(ctx, tx, &created); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return subscriptiondomain.ErrActiveSubscriptionExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	log.With(ctx, s.log).Info("subscription created",
		zap.String("subscription_id", created.ID.String()),
		zap.String("domain_id", created.DomainID.String()),
		zap.String("plan_id", created.PlanID.String()),
		zap.String("remaining_hours", created.RemainingHours.String()),
	)
	return created, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	subscriptionID, err := parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	now := s.clock.Now()
	var canceled subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if err := s.repo.Cancel(ctx, tx, sub.ID, now); err != nil {
			return err
		}
		canceled = *sub
		canceled.Status = subscriptiondomain.SubscriptionStatusCanceled
		canceled.EndDate = &now
		canceled.DeletedAt = gorm.DeletedAt{Time: now, Valid: true}
		canceled.Version++
		canceled.UpdatedAt = now
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	log.With(ctx, s.log).Info("subscription canceled", zap.String("subscription_id", canceled.ID.String()))
	return canceled, nil
}

// SetStatus pauses or resumes a subscription. Canceling goes through Cancel.
func (s *Service) SetStatus(ctx context.Context, id string, status subscriptiondomain.SubscriptionStatus) (subscriptiondomain.Subscription, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	subscriptionID, err := parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if status != subscriptiondomain.SubscriptionStatusActive && status != subscriptiondomain.SubscriptionStatusInactive {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidStatus
	}

	now := s.clock.Now()
	var updated subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		updated = *sub
		if sub.Status == status {
			return nil
		}
		if status == subscriptiondomain.SubscriptionStatusActive {
			existing, err := s.repo.FindActiveByDomainIDForUpdate(ctx, tx, sub.DomainID)
			if err != nil {
				return err
			}
			if existing != nil && existing.ID != sub.ID {
				return subscriptiondomain.ErrActiveSubscriptionExists
			}
		}
		if err := s.repo.UpdateStatus(ctx, tx, sub.ID, status, now); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return subscriptiondomain.ErrActiveSubscriptionExists
			}
			return err
		}
		updated.Status = status
		updated.Version++
		updated.UpdatedAt = now
		return nil
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	subscriptionID, err := parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	sub, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if sub == nil || (actor.IsClient() && sub.ClientID != actor.ClientID) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *sub, nil
}

func (s *Service) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) (subscriptiondomain.ListSubscriptionResponse, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, err
	}
	afterID, err := req.AfterID()
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, err
	}

	filter := subscriptiondomain.ListFilter{
		Status:  req.Status,
		AfterID: afterID,
		Limit:   req.Limit(),
	}
	if actor.IsClient() {
		clientID := actor.ClientID
		filter.ClientID = &clientID
	} else if strings.TrimSpace(req.ClientID) != "" {
		clientID, err := parseID(req.ClientID, clientdomain.ErrInvalidClient)
		if err != nil {
			return subscriptiondomain.ListSubscriptionResponse{}, err
		}
		filter.ClientID = &clientID
	}
	if strings.TrimSpace(req.DomainID) != "" {
		domainID, err := parseID(req.DomainID, subscriptiondomain.ErrInvalidDomain)
		if err != nil {
			return subscriptiondomain.ListSubscriptionResponse{}, err
		}
		filter.DomainID = &domainID
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, err
	}
	items, pageInfo, err := pagination.Page(items, filter.Limit, func(sub *subscriptiondomain.Subscription) int64 { return sub.ID.Int64() })
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, err
	}
	return subscriptiondomain.ListSubscriptionResponse{PageInfo: pageInfo, Subscriptions: items}, nil
}

func (s *Service) authorize(ctx context.Context, action string) (actorcontext.Actor, error) {
	actor, err := actorcontext.Require(ctx)
	if err != nil {
		return actorcontext.Actor{}, err
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectSubscription, action); err != nil {
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
