package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/backoffice/internal/actorcontext"
)

type Service interface {
	// Authorize checks the actor's role against object/action. Denials are audited.
	Authorize(ctx context.Context, actor actorcontext.Actor, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

const (
	ObjectPlan         = "plan"
	ObjectClient       = "client"
	ObjectSubscription = "subscription"
	ObjectDemand       = "demand"
	ObjectTicket       = "ticket"
	ObjectPayment      = "payment"
	ObjectInvoiceCycle = "invoice_cycle"
	ObjectVault        = "vault"
	ObjectNotification = "notification"
)

const (
	ActionView   = "view"
	ActionManage = "manage"

	ActionDemandApprove = "demand.approve"

	ActionTicketOpen    = "ticket.open"
	ActionTicketConvert = "ticket.convert"

	ActionPaymentSubmitReview = "payment.submit_review"
	ActionPaymentSettle       = "payment.settle"

	ActionInvoiceCycleRun = "invoice_cycle.run"

	ActionVaultReveal = "vault.reveal"
)
