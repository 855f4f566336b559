// Package sweeper runs the background reconciliation loops: resource state
// sync, unresolved provisioning recovery and expired order cleanup. The
// database records are a cache; the backends stay the authority, so every
// sweep reads the backend before touching a row.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallorbit/nebula/internal/clock"
	"github.com/smallorbit/nebula/internal/cluster"
	obsmetrics "github.com/smallorbit/nebula/internal/observability/metrics"
	orderdomain "github.com/smallorbit/nebula/internal/order/domain"
	"github.com/smallorbit/nebula/internal/provider/adapters"
	providerdomain "github.com/smallorbit/nebula/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("sweeper_invalid_config")

const jobTimeout = 30 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     orderdomain.Repository
	Orders   orderdomain.Service
	Registry *cluster.Registry
	Adapters *adapters.Registry
	Config   Config `optional:"true"`
}

type Sweeper struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	repo     orderdomain.Repository
	orders   orderdomain.Service
	registry *cluster.Registry
	adapters *adapters.Registry
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Repo == nil || p.Orders == nil || p.Registry == nil || p.Adapters == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:       p.DB,
		log:      p.Log.Named("sweeper"),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		repo:     p.Repo,
		orders:   p.Orders,
		registry: p.Registry,
		adapters: p.Adapters,
	}, nil
}

func (s *Sweeper) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	m := obsmetrics.Sweeper()
	m.IncJobRun(name)

	err := fn(ctx)
	m.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// A deadline cut is a soft stop; the next run picks up where this one
	// left off.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		m.IncJobTimeout(name)
		s.log.Warn("sweep timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
		)
		return nil
	}
	m.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Sweeper) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{"reconcile_unresolved", jobTimeout, s.ReconcileUnresolvedJob},
		{"sync_resource_state", jobTimeout, s.SyncResourceStateJob},
		{"release_expired", 5 * time.Minute, s.ReleaseExpiredJob},
	}

	for _, job := range jobs {
		if !s.cfg.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
	}
	return err
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// provisionerFor resolves the adapter bound to a line's recorded cluster.
func (s *Sweeper) provisionerFor(clusterName string) (providerdomain.Provisioner, error) {
	desc, ok := s.registry.Snapshot().ByName(clusterName)
	if !ok {
		return nil, fmt.Errorf("cluster %q not in registry", clusterName)
	}
	return s.adapters.ForCluster(desc)
}
