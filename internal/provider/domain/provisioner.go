package domain

import (
	"context"

	clusterdomain "github.com/smallorbit/nebula/internal/cluster/domain"
)

// The capability interfaces below are deliberately narrow: a backend adapter
// implements each one it supports and the orchestrator asks for exactly the
// capability a product needs. All methods block on network I/O and honor the
// caller's context deadline. Backend errors never escape as SDK types; every
// adapter converts them to fault.ProviderError with the original message as
// cause. Create is not idempotent at this layer; at-most-once invocation
// per order line is the orchestrator's job. Delete treats an already-absent
// resource as success.

type ComputeProvisioner interface {
	CreateServer(ctx context.Context, spec Spec) (Ref, error)
	GetServer(ctx context.Context, id string) (*Ref, error)
	ListServers(ctx context.Context, filter ListFilter) (Page, error)
	DeleteServer(ctx context.Context, id string) error
	PerformAction(ctx context.Context, id string, action Action, params map[string]string) (Ref, error)
}

type NetworkProvisioner interface {
	CreateNetwork(ctx context.Context, spec Spec) (Ref, error)
	GetNetwork(ctx context.Context, id string) (*Ref, error)
	DeleteNetwork(ctx context.Context, id string) error

	// AllocateFloatingIP and AttachFloatingIP retry a bounded number of
	// times on the transient resource-busy error class.
	AllocateFloatingIP(ctx context.Context, project string) (Ref, error)
	AttachFloatingIP(ctx context.Context, ipID, serverID string) error
}

type LoadBalancerProvisioner interface {
	CreateLoadBalancer(ctx context.Context, spec Spec) (Ref, error)
	GetLoadBalancer(ctx context.Context, id string) (*Ref, error)
	DeleteLoadBalancer(ctx context.Context, id string) error
}

type DatabaseProvisioner interface {
	CreateDatabase(ctx context.Context, spec Spec) (Ref, error)
	GetDatabase(ctx context.Context, id string) (*Ref, error)
	DeleteDatabase(ctx context.Context, id string) error
}

type KubernetesProvisioner interface {
	CreateCluster(ctx context.Context, spec Spec) (Ref, error)
	GetCluster(ctx context.Context, id string) (*Ref, error)
	DeleteCluster(ctx context.Context, id string) error
}

type KeypairProvisioner interface {
	CreateKeypair(ctx context.Context, spec Spec) (Ref, error)
	DeleteKeypair(ctx context.Context, id string) error
}

// Provisioner is the full capability set one backend adapter offers,
// assembled by composition of the narrow interfaces.
type Provisioner interface {
	ComputeProvisioner
	NetworkProvisioner
	LoadBalancerProvisioner
	DatabaseProvisioner
	KubernetesProvisioner
	KeypairProvisioner
}

// Factory builds an adapter bound to one cluster's connection profile.
type Factory interface {
	Backend() string
	NewProvisioner(desc clusterdomain.Descriptor) (Provisioner, error)
}

// Create dispatches the create call matching spec.Kind. It is the single
// entry point the orchestrator uses for order lines.
func Create(ctx context.Context, p Provisioner, spec Spec) (Ref, error) {
	switch spec.Kind {
	case KindCompute:
		return p.CreateServer(ctx, spec)
	case KindNetwork:
		return p.CreateNetwork(ctx, spec)
	case KindLoadBalancer:
		return p.CreateLoadBalancer(ctx, spec)
	case KindDatabase:
		return p.CreateDatabase(ctx, spec)
	case KindKubernetes:
		return p.CreateCluster(ctx, spec)
	case KindKeypair:
		return p.CreateKeypair(ctx, spec)
	case KindFloatingIP:
		return p.AllocateFloatingIP(ctx, spec.Project)
	default:
		return Ref{}, ErrBackendUnavailable
	}
}

// Get dispatches the read call matching kind.
func Get(ctx context.Context, p Provisioner, kind ResourceKind, id string) (*Ref, error) {
	switch kind {
	case KindCompute:
		return p.GetServer(ctx, id)
	case KindNetwork:
		return p.GetNetwork(ctx, id)
	case KindLoadBalancer:
		return p.GetLoadBalancer(ctx, id)
	case KindDatabase:
		return p.GetDatabase(ctx, id)
	case KindKubernetes:
		return p.GetCluster(ctx, id)
	default:
		return nil, ErrBackendUnavailable
	}
}

// Delete dispatches the delete call matching kind.
func Delete(ctx context.Context, p Provisioner, kind ResourceKind, id string) error {
	switch kind {
	case KindCompute:
		return p.DeleteServer(ctx, id)
	case KindNetwork:
		return p.DeleteNetwork(ctx, id)
	case KindLoadBalancer:
		return p.DeleteLoadBalancer(ctx, id)
	case KindDatabase:
		return p.DeleteDatabase(ctx, id)
	case KindKubernetes:
		return p.DeleteCluster(ctx, id)
	case KindKeypair:
		return p.DeleteKeypair(ctx, id)
	default:
		return ErrBackendUnavailable
	}
}
