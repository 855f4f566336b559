package adapters

import (
	"strings"

	clusterdomain "github.com/smallorbit/nebula/internal/cluster/domain"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/provider/domain"
)

// Registry maps backend kinds to adapter factories. One provisioner is built
// per selected cluster, bound to that cluster's connection profile.
type Registry struct {
	factories map[string]domain.Factory
}

func NewRegistry(factories ...domain.Factory) *Registry {
	registry := &Registry{factories: map[string]domain.Factory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		backend := strings.ToLower(strings.TrimSpace(factory.Backend()))
		if backend == "" {
			continue
		}
		registry.factories[backend] = factory
	}
	return registry
}

func (r *Registry) BackendExists(backend string) bool {
	if r == nil {
		return false
	}
	backend = strings.ToLower(strings.TrimSpace(backend))
	_, ok := r.factories[backend]
	return ok
}

// ForCluster returns a provisioner bound to the given cluster.
func (r *Registry) ForCluster(desc clusterdomain.Descriptor) (domain.Provisioner, error) {
	if r == nil {
		return nil, fault.New(fault.ProviderError, "no provider adapters registered")
	}
	backend := strings.ToLower(strings.TrimSpace(desc.Backend))
	factory, ok := r.factories[backend]
	if !ok {
		return nil, fault.Newf(fault.ProviderError, "no adapter for backend %q", desc.Backend)
	}
	return factory.NewProvisioner(desc)
}
