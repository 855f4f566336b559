package billing

import (
	"github.com/smallorbit/nebula/internal/billing/repository"
	"github.com/smallorbit/nebula/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
