package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/audit"
	"github.com/smallbiznis/backoffice/internal/authorization"
	"github.com/smallbiznis/backoffice/internal/billing"
	"github.com/smallbiznis/backoffice/internal/cache"
	"github.com/smallbiznis/backoffice/internal/client"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/internal/config"
	"github.com/smallbiznis/backoffice/internal/demand"
	"github.com/smallbiznis/backoffice/internal/invoicecycle"
	"github.com/smallbiznis/backoffice/internal/logger"
	"github.com/smallbiznis/backoffice/internal/migration"
	"github.com/smallbiznis/backoffice/internal/notification"
	"github.com/smallbiznis/backoffice/internal/observability"
	"github.com/smallbiznis/backoffice/internal/payment"
	"github.com/smallbiznis/backoffice/internal/plan"
	"github.com/smallbiznis/backoffice/internal/ratelimit"
	"github.com/smallbiznis/backoffice/internal/scheduler"
	"github.com/smallbiznis/backoffice/internal/subscription"
	"github.com/smallbiznis/backoffice/internal/ticket"
	"github.com/smallbiznis/backoffice/internal/vault"
	"github.com/smallbiznis/backoffice/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "run the enabled scheduler jobs a single time and exit")
	flag.Parse()

	if *once {
		if err := runOnce(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	fx.New(modules()...).Run()
}

func modules() []fx.Option {
	return []fx.Option{
		// Core Infrastructure
		config.Module,
		logger.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		observability.Module,
		authorization.Module,
		audit.Module,
		ratelimit.Module,

		// Functional Domains
		client.Module,
		plan.Module,
		billing.Module,
		subscription.Module,
		notification.Module,
		ticket.Module,
		demand.Module,
		payment.Module,
		invoicecycle.Module,
		vault.Module,
		scheduler.Module,
	}
}

// runOnce starts the dependency graph without the cron loop and runs every
// enabled job a single time.
func runOnce() error {
	var sched *scheduler.Scheduler
	opts := append(modules(),
		fx.Decorate(func(cfg scheduler.Config) scheduler.Config {
			cfg.Enabled = false
			return cfg
		}),
		fx.Populate(&sched),
	)
	app := fx.New(opts...)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := sched.RunOnce(context.Background())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
