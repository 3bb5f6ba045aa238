package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBillingConfigIsValid(t *testing.T) {
	require.NoError(t, validateBillingConfig(DefaultBillingConfig()))
}

func TestValidateBillingConfigRejectsBadSchedules(t *testing.T) {
	cfg := DefaultBillingConfig()
	cfg.ResetSchedule = "every month"
	assert.Error(t, validateBillingConfig(cfg))

	cfg = DefaultBillingConfig()
	cfg.InvoiceSchedule = ""
	assert.Error(t, validateBillingConfig(cfg))
}

func TestValidateBillingConfigRejectsNonPositiveParallelism(t *testing.T) {
	cfg := DefaultBillingConfig()
	cfg.ResetParallelism = 0
	assert.Error(t, validateBillingConfig(cfg))
}

func TestStaticHolderReturnsStoredConfig(t *testing.T) {
	cfg := DefaultBillingConfig()
	cfg.InvoiceDueDays = 15
	holder := NewStaticBillingConfigHolder(cfg)
	assert.Equal(t, 15, holder.Get().InvoiceDueDays)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("SCHEDULER_JOBS", "reset_hours, generate_invoices,")
	t.Setenv("SCHEDULER_ENABLED", "off")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, []string{"reset_hours", "generate_invoices"}, cfg.Scheduler.EnabledJobs)
	assert.False(t, cfg.Scheduler.Enabled)
}
