package demand

import (
	"github.com/smallbiznis/backoffice/internal/demand/repository"
	"github.com/smallbiznis/backoffice/internal/demand/service"
	"go.uber.org/fx"
)

var Module = fx.Module("demand.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
