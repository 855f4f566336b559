package cluster

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallorbit/nebula/internal/cluster/domain"
	"github.com/smallorbit/nebula/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Registry holds the current cluster configuration. Reads take a consistent
// snapshot; reloads replace the whole snapshot with copy-on-swap so readers
// never observe a partial update. An in-flight orchestration keeps the
// descriptor it already selected even if a reload lands mid-run.
type Registry struct {
	current atomic.Value // holds domain.Snapshot
	log     *zap.Logger
}

// NewRegistry loads clusters.yml and watches it for changes.
func NewRegistry(cfg config.Config, log *zap.Logger) (*Registry, error) {
	v := viper.New()

	v.SetConfigName("clusters")
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.ClusterConfigPath); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/var/lib/nebula/config")
	v.AddConfigPath("/etc/nebula")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read cluster registry: %w", err)
	}

	snapshot, err := loadSnapshot(v)
	if err != nil {
		return nil, err
	}

	r := &Registry{log: log.Named("cluster.registry")}
	r.current.Store(snapshot)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := loadSnapshot(v)
		if err != nil {
			r.log.Warn("cluster registry reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		r.current.Store(updated)
		r.log.Info("cluster registry reloaded",
			zap.String("file", e.Name),
			zap.Int("clusters", updated.Len()),
		)
	})

	return r, nil
}

// NewStaticRegistry builds a registry from a fixed descriptor list. Used by
// tests and by deployments that template their configuration.
func NewStaticRegistry(clusters []domain.Descriptor, log *zap.Logger) (*Registry, error) {
	if err := validate(clusters); err != nil {
		return nil, err
	}
	r := &Registry{log: log.Named("cluster.registry")}
	r.current.Store(domain.NewSnapshot(clusters))
	return r, nil
}

// Snapshot returns the current registry view.
func (r *Registry) Snapshot() domain.Snapshot {
	return r.current.Load().(domain.Snapshot)
}

// Replace swaps in a new cluster set. Takes effect for subsequent selections
// only.
func (r *Registry) Replace(clusters []domain.Descriptor) error {
	if err := validate(clusters); err != nil {
		return err
	}
	r.current.Store(domain.NewSnapshot(clusters))
	return nil
}

func loadSnapshot(v *viper.Viper) (domain.Snapshot, error) {
	var clusters []domain.Descriptor
	if err := v.UnmarshalKey("clusters", &clusters); err != nil {
		return domain.Snapshot{}, fmt.Errorf("parse cluster registry: %w", err)
	}
	if err := validate(clusters); err != nil {
		return domain.Snapshot{}, err
	}
	return domain.NewSnapshot(clusters), nil
}

func validate(clusters []domain.Descriptor) error {
	if len(clusters) == 0 {
		return domain.ErrNoClusterConfigured
	}
	seen := map[string]struct{}{}
	for _, c := range clusters {
		name := strings.TrimSpace(c.Name)
		if name == "" || strings.TrimSpace(c.RegionID) == "" {
			return domain.ErrInvalidDescriptor
		}
		if _, dup := seen[name]; dup {
			return errors.Join(domain.ErrInvalidDescriptor, fmt.Errorf("duplicate cluster %q", name))
		}
		seen[name] = struct{}{}
	}
	return nil
}
