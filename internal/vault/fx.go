package vault

import (
	"github.com/smallbiznis/backoffice/internal/config"
	"github.com/smallbiznis/backoffice/internal/vault/repository"
	"github.com/smallbiznis/backoffice/internal/vault/service"
	"github.com/smallbiznis/backoffice/pkg/sealer"
	"go.uber.org/fx"
)

var Module = fx.Module("vault.service",
	fx.Provide(func(cfg config.Config) (*sealer.Sealer, error) {
		return sealer.New(cfg.VaultSecret)
	}),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
