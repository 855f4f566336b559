package catalog

import (
	"github.com/smallorbit/nebula/internal/catalog/repository"
	"github.com/smallorbit/nebula/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
