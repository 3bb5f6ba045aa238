package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBillingCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewBillingMetrics(registry, Config{})

	m.IncDemandBilled(BillingSourceFallback)
	m.AddOverageHours(decimal.RequireFromString("2.5"))
	m.AddOverageHours(decimal.Zero)
	m.IncLedgerConflict("deduct")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.demandsBilled.WithLabelValues(BillingSourceFallback)))
	assert.Equal(t, 2.5, testutil.ToFloat64(m.overageHours))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ledgerConflicts.WithLabelValues("deduct")))
}
