package order

import (
	"github.com/smallorbit/nebula/internal/order/repository"
	"github.com/smallorbit/nebula/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
