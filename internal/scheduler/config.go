package scheduler

import (
	"time"

	"github.com/smallbiznis/backoffice/internal/config"
)

const (
	JobResetHours       = "reset_hours"
	JobGenerateInvoices = "generate_invoices"
)

// Config controls which jobs this process runs and how long each may take.
type Config struct {
	Enabled     bool
	EnabledJobs []string
	JobTimeout  time.Duration
	// LockTTL must outlive JobTimeout so a slow run keeps its lock.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		JobTimeout: 30 * time.Minute,
		LockTTL:    time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	out := DefaultConfig()
	out.Enabled = cfg.Scheduler.Enabled
	out.EnabledJobs = cfg.Scheduler.EnabledJobs
	return out
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= c.JobTimeout {
		c.LockTTL = 2 * c.JobTimeout
	}
	return c
}
