package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const (
	BillingSourcePlan     = "plan"
	BillingSourceFallback = "fallback"
)

// BillingMetrics tracks money and hour flow through the ledger.
type BillingMetrics struct {
	demandsBilled     *prometheus.CounterVec
	overageHours      prometheus.Counter
	ledgerConflicts   *prometheus.CounterVec
	invoicesGenerated prometheus.Counter
	hoursReset        prometheus.Counter
	decryptFailures   prometheus.Counter
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = NewBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

func NewBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	m := &BillingMetrics{
		demandsBilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "backoffice_demands_billed_total",
			Help:        "Demands priced at approval, by rate source.",
			ConstLabels: labels,
		}, []string{"source"}),
		overageHours: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "backoffice_overage_hours_total",
			Help:        "Hours billed beyond plan allowances.",
			ConstLabels: labels,
		}),
		ledgerConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "backoffice_ledger_conflicts_total",
			Help:        "Ledger writes that lost a version race.",
			ConstLabels: labels,
		}, []string{"operation"}),
		invoicesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "backoffice_invoices_generated_total",
			Help:        "Cycle payments created by invoice generation.",
			ConstLabels: labels,
		}),
		hoursReset: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "backoffice_subscriptions_reset_total",
			Help:        "Subscriptions refilled by the monthly reset.",
			ConstLabels: labels,
		}),
		decryptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "backoffice_vault_decrypt_failures_total",
			Help:        "Vault reveals that returned a redacted secret.",
			ConstLabels: labels,
		}),
	}

	registerer.MustRegister(
		m.demandsBilled,
		m.overageHours,
		m.ledgerConflicts,
		m.invoicesGenerated,
		m.hoursReset,
		m.decryptFailures,
	)
	return m
}

func (m *BillingMetrics) IncDemandBilled(source string) {
	if m == nil {
		return
	}
	m.demandsBilled.WithLabelValues(source).Inc()
}

func (m *BillingMetrics) AddOverageHours(hours decimal.Decimal) {
	if m == nil || !hours.IsPositive() {
		return
	}
	m.overageHours.Add(hours.InexactFloat64())
}

func (m *BillingMetrics) IncLedgerConflict(operation string) {
	if m == nil {
		return
	}
	m.ledgerConflicts.WithLabelValues(operation).Inc()
}

func (m *BillingMetrics) IncInvoiceGenerated() {
	if m == nil {
		return
	}
	m.invoicesGenerated.Inc()
}

func (m *BillingMetrics) IncHoursReset() {
	if m == nil {
		return
	}
	m.hoursReset.Inc()
}

func (m *BillingMetrics) IncDecryptFailure() {
	if m == nil {
		return
	}
	m.decryptFailures.Inc()
}
