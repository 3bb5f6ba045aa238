package notification

import (
	"github.com/smallbiznis/backoffice/internal/notification/repository"
	"github.com/smallbiznis/backoffice/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.NewDispatcher),
)
