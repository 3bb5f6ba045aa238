package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	auditdomain "github.com/smallbiznis/backoffice/internal/audit/domain"
	"github.com/smallbiznis/backoffice/pkg/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:embed model.conf
var modelText string

const (
	roleAdmin  = "role:admin"
	roleClient = "role:client"
	roleSystem = "role:system"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(adapter *gormadapter.Adapter) (*casbin.SyncedEnforcer, error) {
	return newEnforcer(adapter)
}

// NewInMemoryEnforcer builds a seeded enforcer without policy persistence.
func NewInMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	return newEnforcer(nil)
}

func newEnforcer(adapter *gormadapter.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	var enforcer *casbin.SyncedEnforcer
	if adapter != nil {
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, err
	}
	if adapter != nil {
		enforcer.EnableAutoSave(true)
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// NewLocal returns a Service backed by an in-memory enforcer.
func NewLocal(log *zap.Logger, auditSvc auditdomain.Service) (Service, error) {
	enforcer, err := NewInMemoryEnforcer()
	if err != nil {
		return nil, err
	}
	return NewService(Params{Log: log, Enforcer: enforcer, AuditSvc: auditSvc}), nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor actorcontext.Actor, object string, action string) error {
	subject, err := subjectFor(actor)
	if err != nil {
		return err
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		log.With(ctx, s.log).Info("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.AuditLog(ctx, nil, "authorization.denied", object, nil, map[string]any{
		"object": object,
		"action": action,
	})
}

func subjectFor(actor actorcontext.Actor) (string, error) {
	switch actor.Kind {
	case actorcontext.KindAdmin:
		return roleAdmin, nil
	case actorcontext.KindClient:
		if actor.ClientID == 0 {
			return "", ErrInvalidActor
		}
		return roleClient, nil
	case actorcontext.KindSystem:
		return roleSystem, nil
	default:
		return "", ErrInvalidActor
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Admins run the backoffice.
		{roleAdmin, "*", "*"},

		// Clients see their own records and may self-report payments.
		{roleClient, ObjectClient, ActionView},
		{roleClient, ObjectPlan, ActionView},
		{roleClient, ObjectSubscription, ActionView},
		{roleClient, ObjectDemand, ActionView},
		{roleClient, ObjectTicket, ActionView},
		{roleClient, ObjectTicket, ActionTicketOpen},
		{roleClient, ObjectPayment, ActionView},
		{roleClient, ObjectPayment, ActionPaymentSubmitReview},
		{roleClient, ObjectVault, ActionView},
		{roleClient, ObjectNotification, ActionView},
		{roleClient, ObjectNotification, ActionManage},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	// Scheduled jobs act with admin rights.
	if _, err := enforcer.AddGroupingPolicy(roleSystem, roleAdmin); err != nil {
		return err
	}
	return nil
}
