package ticket

import (
	"github.com/smallbiznis/backoffice/internal/ticket/repository"
	"github.com/smallbiznis/backoffice/internal/ticket/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ticket.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
