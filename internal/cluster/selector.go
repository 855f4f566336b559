package cluster

import (
	"strings"

	"github.com/smallorbit/nebula/internal/cluster/domain"
	"github.com/smallorbit/nebula/internal/fault"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Selector picks the target cluster for a new resource. Selection is pure
// given a registry snapshot: the first enabled cluster matching the region
// and the include/exclude filters wins, in registry declaration order.
type Selector struct {
	registry *Registry
	log      *zap.Logger
}

type SelectorParams struct {
	fx.In

	Registry *Registry
	Log      *zap.Logger
}

func NewSelector(p SelectorParams) *Selector {
	return &Selector{
		registry: p.Registry,
		log:      p.Log.Named("cluster.selector"),
	}
}

// Select returns the cluster that should host a new resource in regionID.
// include, when non-empty, restricts candidates to the named clusters;
// exclude removes them. An empty result is a configuration problem and is
// surfaced immediately as NoClusterAvailable, never retried.
func (s *Selector) Select(regionID string, include, exclude []string) (domain.Descriptor, error) {
	regionID = strings.TrimSpace(regionID)
	if regionID == "" {
		return domain.Descriptor{}, fault.New(fault.ValidationError, "region id is required")
	}

	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	snapshot := s.registry.Snapshot()
	for _, c := range snapshot.Clusters() {
		if !c.Enabled || c.RegionID != regionID {
			continue
		}
		if len(includeSet) > 0 {
			if _, ok := includeSet[c.Name]; !ok {
				continue
			}
		}
		if _, ok := excludeSet[c.Name]; ok {
			continue
		}
		return c, nil
	}

	s.log.Warn("no cluster available",
		zap.String("region_id", regionID),
		zap.Strings("include", include),
		zap.Strings("exclude", exclude),
	)
	return domain.Descriptor{}, fault.Newf(fault.NoClusterAvailable, "no enabled cluster serves region %s", regionID)
}

func toSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return set
}

var Module = fx.Module("cluster",
	fx.Provide(NewRegistry),
	fx.Provide(NewSelector),
)
