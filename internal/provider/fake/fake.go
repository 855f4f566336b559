package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	clusterdomain "github.com/smallorbit/nebula/internal/cluster/domain"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/provider/domain"
)

// Factory builds in-memory provisioners. Used by tests and by the "fake"
// backend kind in development registries.
type Factory struct {
	mu    sync.Mutex
	store *Store
}

func NewFactory() *Factory {
	return &Factory{store: NewStore()}
}

func (f *Factory) Backend() string { return "fake" }

// Store exposes the shared state for test inspection.
func (f *Factory) Store() *Store {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store
}

func (f *Factory) NewProvisioner(desc clusterdomain.Descriptor) (domain.Provisioner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Provisioner{cluster: desc.Name, store: f.store}, nil
}

// Store shares state across provisioners from one factory so a test can
// inspect what was created regardless of which cluster was selected.
type Store struct {
	mu        sync.Mutex
	seq       int
	resources map[string]domain.Ref

	// FailKinds makes creates of the listed kinds fail with a non-retryable
	// provider error.
	failKinds map[domain.ResourceKind]bool
}

func NewStore() *Store {
	return &Store{
		resources: map[string]domain.Ref{},
		failKinds: map[domain.ResourceKind]bool{},
	}
}

// FailCreates arranges for future creates of kind to fail.
func (s *Store) FailCreates(kind domain.ResourceKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failKinds[kind] = true
}

// Resources returns a copy of everything created so far.
func (s *Store) Resources() []domain.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Ref, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	return out
}

// SetStatus overrides the cached status of a resource, emulating backend
// drift for sweep tests.
func (s *Store) SetStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.resources[id]; ok {
		r.Status = status
		s.resources[id] = r
	}
}

type Provisioner struct {
	cluster string
	store   *Store
}

func (p *Provisioner) create(_ context.Context, spec domain.Spec) (domain.Ref, error) {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failKinds[spec.Kind] {
		return domain.Ref{}, fault.Wrap(fault.ProviderError, "create failed",
			fmt.Errorf("fake backend %s rejects %s", p.cluster, spec.Kind))
	}

	s.seq++
	ref := domain.Ref{
		ID:        fmt.Sprintf("%s-%s-%d", p.cluster, spec.Kind, s.seq),
		Kind:      spec.Kind,
		Name:      spec.Name,
		Status:    domain.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	s.resources[ref.ID] = ref
	return ref, nil
}

func (p *Provisioner) get(_ context.Context, id string) (*domain.Ref, error) {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.resources[id]; ok {
		return &r, nil
	}
	return nil, nil
}

func (p *Provisioner) delete(_ context.Context, id string) error {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, id)
	return nil
}

func (p *Provisioner) CreateServer(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindCompute
	return p.create(ctx, spec)
}

func (p *Provisioner) GetServer(ctx context.Context, id string) (*domain.Ref, error) {
	return p.get(ctx, id)
}

func (p *Provisioner) ListServers(ctx context.Context, filter domain.ListFilter) (domain.Page, error) {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var page domain.Page
	for _, r := range s.resources {
		if r.Kind != domain.KindCompute {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		page.Items = append(page.Items, r)
	}
	return page, nil
}

func (p *Provisioner) DeleteServer(ctx context.Context, id string) error {
	return p.delete(ctx, id)
}

func (p *Provisioner) PerformAction(ctx context.Context, id string, action domain.Action, _ map[string]string) (domain.Ref, error) {
	s := p.store
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return domain.Ref{}, fault.Wrap(fault.ProviderError, "server not found",
			fmt.Errorf("fake backend: %s", id))
	}
	switch action {
	case domain.ActionStart:
		r.Status = domain.StatusActive
	case domain.ActionStop:
		r.Status = domain.StatusStopped
	}
	s.resources[id] = r
	return r, nil
}

func (p *Provisioner) CreateNetwork(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindNetwork
	return p.create(ctx, spec)
}

func (p *Provisioner) GetNetwork(ctx context.Context, id string) (*domain.Ref, error) {
	return p.get(ctx, id)
}

func (p *Provisioner) DeleteNetwork(ctx context.Context, id string) error {
	return p.delete(ctx, id)
}

func (p *Provisioner) AllocateFloatingIP(ctx context.Context, project string) (domain.Ref, error) {
	return p.create(ctx, domain.Spec{Kind: domain.KindFloatingIP, Name: "fip", Project: project})
}

func (p *Provisioner) AttachFloatingIP(_ context.Context, _, _ string) error {
	return nil
}

func (p *Provisioner) CreateLoadBalancer(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindLoadBalancer
	return p.create(ctx, spec)
}

func (p *Provisioner) GetLoadBalancer(ctx context.Context, id string) (*domain.Ref, error) {
	return p.get(ctx, id)
}

func (p *Provisioner) DeleteLoadBalancer(ctx context.Context, id string) error {
	return p.delete(ctx, id)
}

func (p *Provisioner) CreateDatabase(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindDatabase
	return p.create(ctx, spec)
}

func (p *Provisioner) GetDatabase(ctx context.Context, id string) (*domain.Ref, error) {
	return p.get(ctx, id)
}

func (p *Provisioner) DeleteDatabase(ctx context.Context, id string) error {
	return p.delete(ctx, id)
}

func (p *Provisioner) CreateCluster(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindKubernetes
	return p.create(ctx, spec)
}

func (p *Provisioner) GetCluster(ctx context.Context, id string) (*domain.Ref, error) {
	return p.get(ctx, id)
}

func (p *Provisioner) DeleteCluster(ctx context.Context, id string) error {
	return p.delete(ctx, id)
}

func (p *Provisioner) CreateKeypair(ctx context.Context, spec domain.Spec) (domain.Ref, error) {
	spec.Kind = domain.KindKeypair
	return p.create(ctx, spec)
}

func (p *Provisioner) DeleteKeypair(ctx context.Context, id string) error {
	return p.delete(ctx, id)
}
