package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// BillingConfig holds the operator-tunable knobs of the invoice cycle.
type BillingConfig struct {
	InvoiceDueDays   int    `mapstructure:"invoiceDueDays"`
	ResetSchedule    string `mapstructure:"resetSchedule"`
	InvoiceSchedule  string `mapstructure:"invoiceSchedule"`
	ResetParallelism int    `mapstructure:"resetParallelism"`
	ResetBatchSize   int    `mapstructure:"resetBatchSize"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		InvoiceDueDays:   10,
		ResetSchedule:    "0 0 1 * *",
		InvoiceSchedule:  "30 0 1 * *",
		ResetParallelism: 4,
		ResetBatchSize:   100,
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/backoffice")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BACKOFFICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.invoiceDueDays", defaults.InvoiceDueDays)
	v.SetDefault("billing.resetSchedule", defaults.ResetSchedule)
	v.SetDefault("billing.invoiceSchedule", defaults.InvoiceSchedule)
	v.SetDefault("billing.resetParallelism", defaults.ResetParallelism)
	v.SetDefault("billing.resetBatchSize", defaults.ResetBatchSize)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.InvoiceDueDays < 0 {
		return errors.New("billing.invoiceDueDays cannot be negative")
	}
	if cfg.ResetParallelism <= 0 {
		return errors.New("billing.resetParallelism must be positive")
	}
	if cfg.ResetBatchSize <= 0 {
		return errors.New("billing.resetBatchSize must be positive")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(cfg.ResetSchedule); err != nil {
		return errors.New("billing.resetSchedule is not a valid cron spec")
	}
	if _, err := parser.Parse(cfg.InvoiceSchedule); err != nil {
		return errors.New("billing.invoiceSchedule is not a valid cron spec")
	}
	return nil
}
