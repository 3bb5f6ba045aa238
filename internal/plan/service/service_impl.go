package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	"github.com/smallbiznis/backoffice/internal/authorization"
	"github.com/smallbiznis/backoffice/internal/clock"
	plandomain "github.com/smallbiznis/backoffice/internal/plan/domain"
	"github.com/smallbiznis/backoffice/pkg/db/option"
	"github.com/smallbiznis/backoffice/pkg/log"
	"github.com/smallbiznis/backoffice/pkg/repository"
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
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	authz authorization.Service
	repo  repository.Repository[plandomain.Plan]
}

func NewService(p Params) plandomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		clock: p.Clock,
		authz: p.Authz,
		repo:  repository.ProvideStore[plandomain.Plan](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req plandomain.CreatePlanRequest) (plandomain.Plan, error) {
	if err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return plandomain.Plan{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return plandomain.Plan{}, plandomain.ErrInvalidName
	}
	if err := validateTerms(req.Price, req.MonthlyHours, req.HourlyRate); err != nil {
		return plandomain.Plan{}, err
	}

	now := s.clock.Now()
	plan := plandomain.Plan{
		ID:           s.genID.Generate(),
		Name:         name,
		Price:        req.Price.Round(2),
		MonthlyHours: req.MonthlyHours,
		HourlyRate:   req.HourlyRate.Round(2),
		Status:       plandomain.PlanStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, &plan); err != nil {
		return plandomain.Plan{}, err
	}

	log.With(ctx, s.log).Info("plan created", zap.String("plan_id", plan.ID.String()))
	return plan, nil
}

func (s *Service) Update(ctx context.Context, req plandomain.UpdatePlanRequest) (plandomain.Plan, error) {
	if err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return plandomain.Plan{}, err
	}

	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return plandomain.Plan{}, err
	}

	fields := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return plandomain.Plan{}, plandomain.ErrInvalidName
		}
		current.Name = name
		fields["name"] = name
	}
	if req.Price != nil {
		current.Price = req.Price.Round(2)
		fields["price"] = current.Price
	}
	if req.MonthlyHours != nil {
		current.MonthlyHours = *req.MonthlyHours
		fields["monthly_hours"] = current.MonthlyHours
	}
	if req.HourlyRate != nil {
		current.HourlyRate = req.HourlyRate.Round(2)
		fields["hourly_rate"] = current.HourlyRate
	}
	if req.Status != nil {
		switch *req.Status {
		case plandomain.PlanStatusActive, plandomain.PlanStatusInactive, plandomain.PlanStatusCanceled:
		default:
			return plandomain.Plan{}, plandomain.ErrInvalidStatus
		}
		current.Status = *req.Status
		fields["status"] = current.Status
	}
	if err := validateTerms(current.Price, current.MonthlyHours, current.HourlyRate); err != nil {
		return plandomain.Plan{}, err
	}
	if len(fields) == 0 {
		return current, nil
	}

	current.UpdatedAt = s.clock.Now()
	fields["updated_at"] = current.UpdatedAt
	if err := s.repo.Update(ctx, current.ID.Int64(), fields); err != nil {
		return plandomain.Plan{}, err
	}
	return current, nil
}

func (s *Service) Get(ctx context.Context, id string) (plandomain.Plan, error) {
	planID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || planID == 0 {
		return plandomain.Plan{}, plandomain.ErrInvalidPlan
	}
	plan, err := s.repo.FindOne(ctx, &plandomain.Plan{ID: planID})
	if err != nil {
		return plandomain.Plan{}, err
	}
	if plan == nil {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}
	return *plan, nil
}

func (s *Service) List(ctx context.Context, req plandomain.ListPlanRequest) ([]plandomain.Plan, error) {
	filter := &plandomain.Plan{}
	if req.Status != "" {
		filter.Status = req.Status
	}
	items, err := s.repo.Find(ctx, filter, option.WithOrder("id", false))
	if err != nil {
		return nil, err
	}
	plans := make([]plandomain.Plan, 0, len(items))
	for _, item := range items {
		plans = append(plans, *item)
	}
	return plans, nil
}

func (s *Service) authorize(ctx context.Context, action string) error {
	actor, err := actorcontext.Require(ctx)
	if err != nil {
		return err
	}
	return s.authz.Authorize(ctx, actor, authorization.ObjectPlan, action)
}

func validateTerms(price decimal.Decimal, monthlyHours int, hourlyRate decimal.Decimal) error {
	if price.IsNegative() {
		return plandomain.ErrInvalidPrice
	}
	if monthlyHours < 0 {
		return plandomain.ErrInvalidMonthlyHours
	}
	if hourlyRate.IsNegative() {
		return plandomain.ErrInvalidHourlyRate
	}
	return nil
}
