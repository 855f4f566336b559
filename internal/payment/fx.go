package payment

import (
	"github.com/smallorbit/nebula/internal/payment/repository"
	"github.com/smallorbit/nebula/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
