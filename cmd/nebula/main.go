package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/authorization"
	"github.com/smallorbit/nebula/internal/billing"
	"github.com/smallorbit/nebula/internal/catalog"
	"github.com/smallorbit/nebula/internal/clock"
	"github.com/smallorbit/nebula/internal/cluster"
	"github.com/smallorbit/nebula/internal/config"
	"github.com/smallorbit/nebula/internal/history"
	"github.com/smallorbit/nebula/internal/identity"
	"github.com/smallorbit/nebula/internal/lock"
	"github.com/smallorbit/nebula/internal/migration"
	"github.com/smallorbit/nebula/internal/notify"
	"github.com/smallorbit/nebula/internal/observability"
	"github.com/smallorbit/nebula/internal/order"
	"github.com/smallorbit/nebula/internal/payment"
	"github.com/smallorbit/nebula/internal/provider"
	"github.com/smallorbit/nebula/internal/server"
	"github.com/smallorbit/nebula/internal/sweeper"
	"github.com/smallorbit/nebula/pkg/db"
	"go.uber.org/fx"
)

// The monolith: API server plus the background sweeper in one process.
func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,
		cluster.Module,
		provider.Module,

		// Functional domains
		authorization.Module,
		identity.Module,
		catalog.Module,
		order.Module,
		billing.Module,
		payment.Module,
		history.Module,
		notify.Module,

		// Surfaces
		server.Module,
		sweeper.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
