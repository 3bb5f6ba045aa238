package invoicecycle

import (
	"github.com/smallbiznis/backoffice/internal/invoicecycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoicecycle.service",
	fx.Provide(service.NewService),
)
