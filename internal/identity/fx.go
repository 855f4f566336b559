package identity

import (
	"github.com/smallorbit/nebula/internal/identity/repository"
	"github.com/smallorbit/nebula/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
