package metrics

import (
	"github.com/smallbiznis/backoffice/internal/config"
	"go.uber.org/fx"
)

func NewConfig(cfg config.Config) Config {
	return Config{ServiceName: cfg.AppName, Environment: cfg.Environment}
}

var Module = fx.Module("metrics",
	fx.Provide(NewConfig),
	fx.Provide(SchedulerWithConfig),
	fx.Provide(BillingWithConfig),
)
