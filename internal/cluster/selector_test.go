package cluster

import (
	"testing"

	"github.com/smallorbit/nebula/internal/cluster/domain"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClusters() []domain.Descriptor {
	return []domain.Descriptor{
		{Name: "hn-1a", RegionID: "hn-1", Enabled: true, Backend: "fake", Endpoint: "http://hn-1a"},
		{Name: "hn-1b", RegionID: "hn-1", Enabled: true, Backend: "fake", Endpoint: "http://hn-1b"},
		{Name: "hcm-1a", RegionID: "hcm-1", Enabled: true, Backend: "fake", Endpoint: "http://hcm-1a"},
		{Name: "hcm-1b", RegionID: "hcm-1", Enabled: false, Backend: "fake", Endpoint: "http://hcm-1b"},
	}
}

func newTestSelector(t *testing.T) (*Selector, *Registry) {
	t.Helper()
	registry, err := NewStaticRegistry(testClusters(), zap.NewNop())
	require.NoError(t, err)
	return NewSelector(SelectorParams{Registry: registry, Log: zap.NewNop()}), registry
}

func TestSelectIsDeterministic(t *testing.T) {
	selector, _ := newTestSelector(t)

	for i := 0; i < 10; i++ {
		picked, err := selector.Select("hn-1", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "hn-1a", picked.Name)
	}
}

func TestSelectHonorsIncludeExclude(t *testing.T) {
	selector, _ := newTestSelector(t)

	picked, err := selector.Select("hn-1", []string{"hn-1b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hn-1b", picked.Name)

	picked, err = selector.Select("hn-1", nil, []string{"hn-1a"})
	require.NoError(t, err)
	assert.Equal(t, "hn-1b", picked.Name)
}

func TestSelectSkipsDisabledClusters(t *testing.T) {
	selector, _ := newTestSelector(t)

	picked, err := selector.Select("hcm-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hcm-1a", picked.Name)

	// the only remaining hcm-1 cluster is disabled
	_, err = selector.Select("hcm-1", nil, []string{"hcm-1a"})
	require.Error(t, err)
	assert.Equal(t, fault.NoClusterAvailable, fault.KindOf(err))
}

func TestSelectUnknownRegionFailsLoudly(t *testing.T) {
	selector, _ := newTestSelector(t)

	_, err := selector.Select("dn-1", nil, nil)
	require.Error(t, err)
	assert.Equal(t, fault.NoClusterAvailable, fault.KindOf(err))
}

func TestReloadAffectsSubsequentSelectionsOnly(t *testing.T) {
	selector, registry := newTestSelector(t)

	before, err := selector.Select("hn-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hn-1a", before.Name)

	clusters := testClusters()
	clusters[0].Enabled = false
	require.NoError(t, registry.Replace(clusters))

	after, err := selector.Select("hn-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hn-1b", after.Name)

	// the descriptor picked before the reload is unchanged
	assert.Equal(t, "hn-1a", before.Name)
	assert.True(t, before.Enabled)
}

func TestRegistryRejectsInvalidSets(t *testing.T) {
	_, err := NewStaticRegistry(nil, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrNoClusterConfigured)

	_, err = NewStaticRegistry([]domain.Descriptor{{Name: "", RegionID: "hn-1"}}, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrInvalidDescriptor)

	_, err = NewStaticRegistry([]domain.Descriptor{
		{Name: "a", RegionID: "hn-1"},
		{Name: "a", RegionID: "hn-1"},
	}, zap.NewNop())
	assert.ErrorIs(t, err, domain.ErrInvalidDescriptor)
}
