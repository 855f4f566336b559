package domain

import "errors"

// Descriptor is the configuration for one backend cluster serving a region.
// Descriptors are configuration, not user data: they are loaded from the
// registry file and swapped wholesale on reload.
type Descriptor struct {
	Name     string `mapstructure:"name" json:"name"`
	RegionID string `mapstructure:"region_id" json:"region_id"`
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`

	// Backend connection profile.
	Backend  string `mapstructure:"backend" json:"backend"`
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	Project  string `mapstructure:"project" json:"project"`
	Token    string `mapstructure:"token" json:"-"`
}

var (
	ErrNoClusterConfigured = errors.New("no_cluster_configured")
	ErrInvalidDescriptor   = errors.New("invalid_cluster_descriptor")
)

// Snapshot is an immutable view of the registry at one point in time.
// Iteration order is the declaration order of the registry file, which makes
// selection deterministic across calls against the same snapshot.
type Snapshot struct {
	clusters []Descriptor
}

func NewSnapshot(clusters []Descriptor) Snapshot {
	copied := make([]Descriptor, len(clusters))
	copy(copied, clusters)
	return Snapshot{clusters: copied}
}

func (s Snapshot) Clusters() []Descriptor {
	out := make([]Descriptor, len(s.clusters))
	copy(out, s.clusters)
	return out
}

func (s Snapshot) Len() int { return len(s.clusters) }

// ByName returns the descriptor with the given name, if present.
func (s Snapshot) ByName(name string) (Descriptor, bool) {
	for _, c := range s.clusters {
		if c.Name == name {
			return c, true
		}
	}
	return Descriptor{}, false
}
