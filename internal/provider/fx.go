package provider

import (
	"github.com/smallorbit/nebula/internal/provider/adapters"
	"github.com/smallorbit/nebula/internal/provider/adapters/openapi"
	"github.com/smallorbit/nebula/internal/provider/fake"
	"go.uber.org/fx"
)

var Module = fx.Module("provider",
	fx.Provide(NewAdapterRegistry),
)

func NewAdapterRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		openapi.NewFactory(),
		fake.NewFactory(),
	)
}
