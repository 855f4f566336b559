package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	clusterdomain "github.com/smallorbit/nebula/internal/cluster/domain"
	"github.com/smallorbit/nebula/internal/fault"
	"github.com/smallorbit/nebula/internal/provider/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.Handler) domain.Provisioner {
	t.Helper()
	previous := floatingIPBackoff
	floatingIPBackoff = time.Millisecond
	t.Cleanup(func() { floatingIPBackoff = previous })

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewFactory().NewProvisioner(clusterdomain.Descriptor{
		Name:     "test-1a",
		RegionID: "test-1",
		Enabled:  true,
		Backend:  "openapi",
		Endpoint: server.URL,
		Project:  "proj-1",
		Token:    "secret",
	})
	require.NoError(t, err)
	return p
}

func TestCreateServerNormalizesBackendError(t *testing.T) {
	p := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "compute_fault",
			"message": "hypervisor on fire",
		})
	}))

	_, err := p.CreateServer(context.Background(), domain.Spec{Name: "web-1"})
	require.Error(t, err)
	assert.Equal(t, fault.ProviderError, fault.KindOf(err))
	// the backend message rides along as cause, not as the user message
	assert.NotContains(t, err.(*fault.Error).Message, "hypervisor")
	assert.Contains(t, err.Error(), "hypervisor on fire")
}

func TestDeleteTreatsAbsentAsSuccess(t *testing.T) {
	p := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "not_found"})
	}))

	assert.NoError(t, p.DeleteServer(context.Background(), "gone-already"))
	assert.NoError(t, p.DeleteNetwork(context.Background(), "gone-already"))
}

func TestGetAbsentReturnsNil(t *testing.T) {
	p := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	ref, err := p.GetServer(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestAllocateFloatingIPRetriesOnBusy(t *testing.T) {
	var calls atomic.Int32
	p := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "pool busy"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":     "fip-1",
			"status": "active",
		})
	}))

	ref, err := p.AllocateFloatingIP(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "fip-1", ref.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAllocateFloatingIPGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	p := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	}))

	_, err := p.AllocateFloatingIP(context.Background(), "proj-1")
	require.Error(t, err)
	assert.Equal(t, fault.ProviderError, fault.KindOf(err))
	assert.Equal(t, int32(floatingIPAttempts), calls.Load())
}

func TestAuthHeaderAndProjectDefaults(t *testing.T) {
	p := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "proj-1", body["project"])

		_ = json.NewEncoder(w).Encode(map[string]string{"id": "srv-1", "status": "creating"})
	}))

	ref, err := p.CreateServer(context.Background(), domain.Spec{Name: "web-1"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", ref.ID)
	assert.Equal(t, domain.StatusCreating, ref.Status)
}
