package sweeper

import (
	"context"
	"strings"
	"time"

	"github.com/smallorbit/nebula/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("sweeper",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(Run),
)

func ProvideConfig(cfg config.Config) Config {
	out := Config{
		RunInterval:         time.Duration(cfg.Sweeper.RunIntervalSeconds) * time.Second,
		BatchSize:           cfg.Sweeper.BatchSize,
		UnresolvedThreshold: time.Duration(cfg.Sweeper.UnresolvedThresholdSeconds) * time.Second,
		FailAfter:           time.Duration(cfg.Sweeper.FailAfterHours) * time.Hour,
	}
	if jobs := strings.TrimSpace(cfg.Sweeper.EnabledJobs); jobs != "" {
		for _, name := range strings.Split(jobs, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out.EnabledJobs = append(out.EnabledJobs, name)
			}
		}
	}
	return out.withDefaults()
}

func Run(lc fx.Lifecycle, sweeper *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sweeper.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
