package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/catalog"
	"github.com/smallorbit/nebula/internal/clock"
	"github.com/smallorbit/nebula/internal/cluster"
	"github.com/smallorbit/nebula/internal/config"
	"github.com/smallorbit/nebula/internal/identity"
	"github.com/smallorbit/nebula/internal/lock"
	"github.com/smallorbit/nebula/internal/notify"
	"github.com/smallorbit/nebula/internal/observability"
	"github.com/smallorbit/nebula/internal/order"
	"github.com/smallorbit/nebula/internal/provider"
	"github.com/smallorbit/nebula/internal/sweeper"
	"github.com/smallorbit/nebula/pkg/db"
	"go.uber.org/fx"
)

// Sweeper-only process. Runs the reconciliation and release loops against
// the same database as the API; safe to run alongside any number of API
// replicas thanks to the provisioning locks.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		cluster.Module,
		provider.Module,

		// Domain services the sweeper drives
		identity.Module,
		catalog.Module,
		order.Module,
		notify.Module,

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
