package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	auditdomain "github.com/smallbiznis/backoffice/internal/audit/domain"
	"github.com/smallbiznis/backoffice/internal/authorization"
	clientdomain "github.com/smallbiznis/backoffice/internal/client/domain"
	"github.com/smallbiznis/backoffice/internal/clock"
	notificationdomain "github.com/smallbiznis/backoffice/internal/notification/domain"
	paymentdomain "github.com/smallbiznis/backoffice/internal/payment/domain"
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
	Repo       paymentdomain.Repository
	ClientRepo clientdomain.Repository
	AuditSvc   auditdomain.Service
	Notifier   notificationdomain.Dispatcher
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	authz      authorization.Service
	repo       paymentdomain.Repository
	clientRepo clientdomain.Repository
	auditSvc   auditdomain.Service
	notifier   notificationdomain.Dispatcher
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		authz:      p.Authz,
		repo:       p.Repo,
		clientRepo: p.ClientRepo,
		auditSvc:   p.AuditSvc,
		notifier:   p.Notifier,
	}
}

func (s *Service) CreateManual(ctx context.Context, req paymentdomain.CreateManualPaymentRequest) (paymentdomain.Payment, error) {
	if _, err := s.authorize(ctx, authorization.ActionManage); err != nil {
		return paymentdomain.Payment{}, err
	}
	clientID, err := parseID(req.ClientID, paymentdomain.ErrInvalidClient)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	var subscriptionID *snowflake.ID
	if strings.TrimSpace(req.SubscriptionID) != "" {
		id, err := parseID(req.SubscriptionID, paymentdomain.ErrInvalidSubscription)
		if err != nil {
			return paymentdomain.Payment{}, err
		}
		subscriptionID = &id
	}
	if !req.Amount.IsPositive() {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}
	if req.DueDate.IsZero() {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidDueDate
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = req.DueDate.UTC().Format(paymentdomain.ReferenceLayout)
	}
	if _, err := time.Parse(paymentdomain.ReferenceLayout, reference); err != nil {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidReference
	}

	client, err := s.clientRepo.FindClientByID(ctx, s.db, clientID)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if client == nil {
		return paymentdomain.Payment{}, clientdomain.ErrClientNotFound
	}

	now := s.clock.Now()
	payment := paymentdomain.Payment{
		ID:             s.genID.Generate(),
		ClientID:       client.ID,
		SubscriptionID: subscriptionID,
		Amount:         req.Amount.Round(2),
		Status:         paymentdomain.PaymentStatusOpen,
		DueDate:        req.DueDate.UTC(),
		Reference:      reference,
		Description:    strings.TrimSpace(req.Description),
		Source:         paymentdomain.PaymentSourceManual,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, &payment); err != nil {
		return paymentdomain.Payment{}, err
	}

	s.audit(ctx, payment, "payment.create_manual", "")
	s.notifyClient(ctx, payment, notificationdomain.TypePaymentCreated, "New invoice",
		fmt.Sprintf("An invoice of %s for %s is due on %s.", payment.Amount.StringFixed(2), payment.Reference, payment.DueDate.Format("2006-01-02")),
	)
	return payment, nil
}

func (s *Service) Get(ctx context.Context, id string) (paymentdomain.Payment, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	paymentID, err := parseID(id, paymentdomain.ErrInvalidPayment)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	payment, err := s.repo.FindByID(ctx, s.db, paymentID)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if payment == nil || (actor.IsClient() && payment.ClientID != actor.ClientID) {
		return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotFound
	}
	return *payment, nil
}

func (s *Service) List(ctx context.Context, req paymentdomain.ListPaymentRequest) (paymentdomain.ListPaymentResponse, error) {
	actor, err := s.authorize(ctx, authorization.ActionView)
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}
	afterID, err := req.AfterID()
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}
	filter := paymentdomain.ListFilter{
		Status:    req.Status,
		Reference: strings.TrimSpace(req.Reference),
		AfterID:   afterID,
		Limit:     req.Limit(),
	}
	if actor.IsClient() {
		clientID := actor.ClientID
		filter.ClientID = &clientID
	} else if strings.TrimSpace(req.ClientID) != "" {
		clientID, err := parseID(req.ClientID, paymentdomain.ErrInvalidClient)
		if err != nil {
			return paymentdomain.ListPaymentResponse{}, err
		}
		filter.ClientID = &clientID
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}
	items, pageInfo, err := pagination.Page(items, filter.Limit, func(p *paymentdomain.Payment) int64 { return p.ID.Int64() })
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}
	return paymentdomain.ListPaymentResponse{PageInfo: pageInfo, Payments: items}, nil
}

func (s *Service) MarkPaid(ctx context.Context, id string) (paymentdomain.Payment, error) {
	payment, from, err := s.transition(ctx, id, paymentdomain.PaymentStatusPaid, authorization.ActionPaymentSettle)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	s.audit(ctx, payment, "payment.mark_paid", from)
	s.notifyClient(ctx, payment, notificationdomain.TypePaymentPaid, "Payment confirmed",
		fmt.Sprintf("Your payment of %s for %s was confirmed.", payment.Amount.StringFixed(2), payment.Reference),
	)
	return payment, nil
}

func (s *Service) Cancel(ctx context.Context, id string) (paymentdomain.Payment, error) {
	payment, from, err := s.transition(ctx, id, paymentdomain.PaymentStatusCanceled, authorization.ActionPaymentSettle)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	s.audit(ctx, payment, "payment.cancel", from)
	s.notifyClient(ctx, payment, notificationdomain.TypePaymentCanceled, "Invoice canceled",
		fmt.Sprintf("The invoice for %s was canceled.", payment.Reference),
	)
	return payment, nil
}

func (s *Service) SubmitForReview(ctx context.Context, id string) (paymentdomain.Payment, error) {
	payment, from, err := s.transition(ctx, id, paymentdomain.PaymentStatusPendingReview, authorization.ActionPaymentSubmitReview)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	s.audit(ctx, payment, "payment.submit_review", from)
	if err := s.notifier.NotifyAdmins(ctx, notificationdomain.Message{
		Type:  notificationdomain.TypePaymentPendingReview,
		Title: "Payment awaiting review",
		Body:  fmt.Sprintf("Client %s reported payment of %s for %s.", payment.ClientID, payment.Amount.StringFixed(2), payment.Reference),
	}); err != nil {
		s.warnNotify(ctx, payment, notificationdomain.TypePaymentPendingReview, err)
	}
	return payment, nil
}

func (s *Service) RejectReview(ctx context.Context, id string) (paymentdomain.Payment, error) {
	payment, from, err := s.transition(ctx, id, paymentdomain.PaymentStatusOpen, authorization.ActionPaymentSettle)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	s.audit(ctx, payment, "payment.reject_review", from)
	s.notifyClient(ctx, payment, notificationdomain.TypePaymentReviewRejected, "Payment not confirmed",
		fmt.Sprintf("We could not confirm your payment for %s; the invoice is open again.", payment.Reference),
	)
	return payment, nil
}

func (s *Service) transition(ctx context.Context, id string, next paymentdomain.PaymentStatus, action string) (paymentdomain.Payment, paymentdomain.PaymentStatus, error) {
	actor, err := s.authorize(ctx, action)
	if err != nil {
		return paymentdomain.Payment{}, "", err
	}
	paymentID, err := parseID(id, paymentdomain.ErrInvalidPayment)
	if err != nil {
		return paymentdomain.Payment{}, "", err
	}

	var (
		updated paymentdomain.Payment
		from    paymentdomain.PaymentStatus
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.repo.FindByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil || (actor.IsClient() && payment.ClientID != actor.ClientID) {
			return paymentdomain.ErrPaymentNotFound
		}
		from = payment.Status
		if err := payment.TransitionTo(next, s.clock.Now()); err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, tx, payment); err != nil {
			return err
		}
		updated = *payment
		return nil
	})
	if err != nil {
		return paymentdomain.Payment{}, "", err
	}

	log.With(ctx, s.log).Info("payment status changed",
		zap.String("payment_id", updated.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)),
	)
	return updated, from, nil
}

func (s *Service) audit(ctx context.Context, payment paymentdomain.Payment, action string, from paymentdomain.PaymentStatus) {
	targetID := payment.ID.String()
	clientID := payment.ClientID
	metadata := map[string]any{
		"status":    string(payment.Status),
		"amount":    payment.Amount.StringFixed(2),
		"reference": payment.Reference,
	}
	if from != "" {
		metadata["from_status"] = string(from)
	}
	if err := s.auditSvc.AuditLog(ctx, &clientID, action, "payment", &targetID, metadata); err != nil {
		log.With(ctx, s.log).Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) notifyClient(ctx context.Context, payment paymentdomain.Payment, typ notificationdomain.NotificationType, title, body string) {
	if err := s.notifier.NotifyClient(ctx, payment.ClientID, notificationdomain.Message{
		Type:  typ,
		Title: title,
		Body:  body,
	}); err != nil {
		s.warnNotify(ctx, payment, typ, err)
	}
}

func (s *Service) warnNotify(ctx context.Context, payment paymentdomain.Payment, typ notificationdomain.NotificationType, err error) {
	log.With(ctx, s.log).Warn("payment notification failed",
		zap.String("payment_id", payment.ID.String()),
		zap.String("type", string(typ)),
		zap.Error(err),
	)
}

func (s *Service) authorize(ctx context.Context, action string) (actorcontext.Actor, error) {
	actor, err := actorcontext.Require(ctx)
	if err != nil {
		return actorcontext.Actor{}, err
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectPayment, action); err != nil {
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
