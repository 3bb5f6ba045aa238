package observability

import (
	"context"

	"github.com/smallbiznis/backoffice/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("observability",
	metrics.Module,
	fx.Provide(LoadConfig),
	fx.Invoke(register),
)

func register(lc fx.Lifecycle, cfg Config, conn *gorm.DB, log *zap.Logger) error {
	if cfg.Addr == "" {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	srv := NewServer(cfg, NewHandler(nil, sqlDB, cfg.ServiceName), log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			srv.Start()
			return nil
		},
		OnStop: srv.Stop,
	})
	return nil
}
