package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/backoffice/internal/actorcontext"
	"github.com/smallbiznis/backoffice/internal/authorization"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/internal/config"
	demanddomain "github.com/smallbiznis/backoffice/internal/demand/domain"
	invoicecycledomain "github.com/smallbiznis/backoffice/internal/invoicecycle/domain"
	notificationdomain "github.com/smallbiznis/backoffice/internal/notification/domain"
	"github.com/smallbiznis/backoffice/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/backoffice/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
	"github.com/smallbiznis/backoffice/pkg/db"
	"github.com/smallbiznis/backoffice/pkg/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Authz       authorization.Service
	Billing     *config.BillingConfigHolder
	Ledger      subscriptiondomain.Ledger
	SubRepo     subscriptiondomain.Repository
	DemandRepo  demanddomain.Repository
	PaymentRepo paymentdomain.Repository
	Notifier    notificationdomain.Dispatcher
	Metrics     *metrics.BillingMetrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	authz       authorization.Service
	billing     *config.BillingConfigHolder
	ledger      subscriptiondomain.Ledger
	subRepo     subscriptiondomain.Repository
	demandRepo  demanddomain.Repository
	paymentRepo paymentdomain.Repository
	notifier    notificationdomain.Dispatcher
	metrics     *metrics.BillingMetrics
}

func NewService(p Params) invoicecycledomain.Service {
	billing := p.Billing
	if billing == nil {
		billing = config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoicecycle.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		authz:       p.Authz,
		billing:     billing,
		ledger:      p.Ledger,
		subRepo:     p.SubRepo,
		demandRepo:  p.DemandRepo,
		paymentRepo: p.PaymentRepo,
		notifier:    p.Notifier,
		metrics:     p.Metrics,
	}
}

func (s *Service) ResetActiveSubscriptions(ctx context.Context) (invoicecycledomain.ResetSummary, error) {
	if err := s.authorize(ctx); err != nil {
		return invoicecycledomain.ResetSummary{}, err
	}
	cfg := s.billing.Get()

	var (
		summary invoicecycledomain.ResetSummary
		mu      sync.Mutex
		afterID snowflake.ID
	)
	for {
		ids, err := s.subRepo.ListActiveIDs(ctx, s.db, afterID, cfg.ResetBatchSize)
		if err != nil {
			return summary, err
		}
		if len(ids) == 0 {
			break
		}
		afterID = ids[len(ids)-1]

		var g errgroup.Group
		g.SetLimit(cfg.ResetParallelism)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				reset, err := s.ledger.ResetHours(ctx, id)

				mu.Lock()
				defer mu.Unlock()
				summary.Processed++
				switch {
				case err != nil:
					summary.Failures = append(summary.Failures, fmt.Errorf("subscription %s: %w", id, err))
				case reset:
					summary.Reset++
				default:
					summary.Skipped++
				}
				return nil
			})
		}
		// Workers never fail the group; per-subscription errors land in summary.Failures.
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if len(ids) < cfg.ResetBatchSize {
			break
		}
	}

	log.With(ctx, s.log).Info("subscription hours reset",
		zap.Int("processed", summary.Processed),
		zap.Int("reset", summary.Reset),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", len(summary.Failures)),
	)
	return summary, errors.Join(summary.Failures...)
}

type clientBatch struct {
	clientID snowflake.ID
	demands  []*demanddomain.Demand
	total    decimal.Decimal
}

func (s *Service) GenerateInvoices(ctx context.Context, period time.Time) (invoicecycledomain.GenerateSummary, error) {
	if err := s.authorize(ctx); err != nil {
		return invoicecycledomain.GenerateSummary{}, err
	}
	if period.IsZero() {
		return invoicecycledomain.GenerateSummary{}, invoicecycledomain.ErrInvalidPeriod
	}
	start, end := invoicecycledomain.PeriodBounds(period)
	summary := invoicecycledomain.GenerateSummary{
		Reference: start.Format(paymentdomain.ReferenceLayout),
		Total:     decimal.Zero,
	}

	// A demand canceled after approval keeps its deducted hours, so its charge stands.
	demands, err := s.demandRepo.ListUninvoiced(ctx, s.db, demanddomain.InvoiceFilter{
		BilledBefore: end,
		Statuses: []demanddomain.DemandStatus{
			demanddomain.DemandStatusInApproval,
			demanddomain.DemandStatusCompleted,
			demanddomain.DemandStatusCanceled,
		},
	})
	if err != nil {
		return summary, err
	}

	dueDate := end.AddDate(0, 0, s.billing.Get().InvoiceDueDays)
	for _, batch := range groupByClient(demands) {
		summary.Clients++
		payment, created, err := s.invoiceClient(ctx, batch, summary.Reference, dueDate)
		if err != nil {
			summary.Failures = append(summary.Failures, fmt.Errorf("client %s: %w", batch.clientID, err))
			continue
		}
		summary.DemandsInvoiced += len(batch.demands)
		summary.Total = summary.Total.Add(batch.total)
		if payment == nil {
			continue
		}
		if created {
			summary.PaymentsCreated++
			s.metrics.IncInvoiceGenerated()
		} else {
			summary.PaymentsToppedUp++
		}
		s.notifyInvoice(ctx, *payment, created)
	}

	log.With(ctx, s.log).Info("invoices generated",
		zap.String("reference", summary.Reference),
		zap.Int("clients", summary.Clients),
		zap.Int("created", summary.PaymentsCreated),
		zap.Int("topped_up", summary.PaymentsToppedUp),
		zap.Int("demands", summary.DemandsInvoiced),
		zap.String("total", summary.Total.StringFixed(2)),
		zap.Int("failed", len(summary.Failures)),
	)
	return summary, errors.Join(summary.Failures...)
}

// invoiceClient returns the payment the batch landed on, nil for a zero total.
func (s *Service) invoiceClient(ctx context.Context, batch clientBatch, reference string, dueDate time.Time) (*paymentdomain.Payment, bool, error) {
	ids := make([]snowflake.ID, 0, len(batch.demands))
	for _, d := range batch.demands {
		ids = append(ids, d.ID)
	}

	var (
		payment *paymentdomain.Payment
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		if batch.total.IsPositive() {
			existing, err := s.paymentRepo.FindCycleForUpdate(ctx, tx, batch.clientID, reference)
			if err != nil {
				return err
			}
			// A period's invoice that was paid, disputed or canceled is never topped up or duplicated.
			if existing != nil && existing.Status != paymentdomain.PaymentStatusOpen {
				return fmt.Errorf("%w: payment %s is %s", invoicecycledomain.ErrInvoiceConflict, existing.ID, existing.Status)
			}
			if existing != nil {
				existing.Amount = existing.Amount.Add(batch.total)
				existing.UpdatedAt = now
				if err := s.paymentRepo.UpdateAmount(ctx, tx, existing.ID, existing.Amount, now); err != nil {
					return err
				}
				payment = existing
			} else {
				payment = &paymentdomain.Payment{
					ID:          s.genID.Generate(),
					ClientID:    batch.clientID,
					Amount:      batch.total,
					Status:      paymentdomain.PaymentStatusOpen,
					DueDate:     dueDate,
					Reference:   reference,
					Description: fmt.Sprintf("Support hours %s", reference),
					Source:      paymentdomain.PaymentSourceCycle,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := s.paymentRepo.Insert(ctx, tx, payment); err != nil {
					if db.IsDuplicateKeyErr(err) {
						return fmt.Errorf("%w: %w", invoicecycledomain.ErrInvoiceConflict, err)
					}
					return err
				}
				created = true
			}
		}

		var paymentID *snowflake.ID
		if payment != nil {
			paymentID = &payment.ID
		}
		stamped, err := s.demandRepo.MarkInvoiced(ctx, tx, ids, paymentID, now)
		if err != nil {
			return err
		}
		if stamped != int64(len(ids)) {
			return invoicecycledomain.ErrInvoiceConflict
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return payment, created, nil
}

func (s *Service) notifyInvoice(ctx context.Context, payment paymentdomain.Payment, created bool) {
	title := "New invoice"
	if !created {
		title = "Invoice updated"
	}
	err := s.notifier.NotifyClient(ctx, payment.ClientID, notificationdomain.Message{
		Type:  notificationdomain.TypePaymentCreated,
		Title: title,
		Body:  fmt.Sprintf("Your invoice for %s totals %s, due on %s.", payment.Reference, payment.Amount.StringFixed(2), payment.DueDate.Format("2006-01-02")),
	})
	if err != nil {
		log.With(ctx, s.log).Warn("invoice notification failed",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
	}
}

// groupByClient relies on demands arriving ordered by client_id.
func groupByClient(demands []*demanddomain.Demand) []clientBatch {
	var batches []clientBatch
	for _, d := range demands {
		if len(batches) == 0 || batches[len(batches)-1].clientID != d.ClientID {
			batches = append(batches, clientBatch{clientID: d.ClientID, total: decimal.Zero})
		}
		last := &batches[len(batches)-1]
		last.demands = append(last.demands, d)
		last.total = last.total.Add(d.Value).Add(d.OverageValue)
	}
	return batches
}

func (s *Service) authorize(ctx context.Context) error {
	actor, err := actorcontext.Require(ctx)
	if err != nil {
		return err
	}
	return s.authz.Authorize(ctx, actor, authorization.ObjectInvoiceCycle, authorization.ActionInvoiceCycleRun)
}
