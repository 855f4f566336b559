package domain

import (
	"errors"
	"time"
)

// ResourceKind names a provisionable backend resource class.
type ResourceKind string

const (
	KindCompute      ResourceKind = "compute"
	KindNetwork      ResourceKind = "network"
	KindLoadBalancer ResourceKind = "load_balancer"
	KindDatabase     ResourceKind = "db_instance"
	KindKubernetes   ResourceKind = "k8s_cluster"
	KindKeypair      ResourceKind = "keypair"
	KindFloatingIP   ResourceKind = "floating_ip"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case KindCompute, KindNetwork, KindLoadBalancer, KindDatabase, KindKubernetes, KindKeypair, KindFloatingIP:
		return true
	default:
		return false
	}
}

// Resource status values as reported by the backend. The backend is the
// authority for live state; local records only cache the last observation.
const (
	StatusCreating = "creating"
	StatusActive   = "active"
	StatusStopped  = "stopped"
	StatusError    = "error"
	StatusDeleted  = "deleted"
	StatusUnknown  = "unknown"
)

// Action verbs accepted by PerformAction.
type Action string

const (
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionReboot   Action = "reboot"
	ActionLock     Action = "lock"
	ActionUnlock   Action = "unlock"
	ActionResize   Action = "resize"
	ActionSnapshot Action = "snapshot"
	ActionRollback Action = "rollback"
)

// Ref points at one backend resource. The backend id is opaque.
type Ref struct {
	ID     string       `json:"id"`
	Kind   ResourceKind `json:"kind"`
	Name   string       `json:"name"`
	Status string       `json:"status"`

	// Addresses and endpoint data the backend reported, when applicable.
	Addresses map[string]string `json:"addresses,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Spec describes the resource to create. Options carries the per-kind
// settings the catalog attached to the ordered product (flavor, image,
// engine version, node count and the like).
type Spec struct {
	Kind    ResourceKind      `json:"kind"`
	Name    string            `json:"name"`
	Project string            `json:"project"`
	Options map[string]string `json:"options,omitempty"`

	// NetworkID links a compute, lb or db resource to a previously created
	// network line in the same order.
	NetworkID string `json:"network_id,omitempty"`
}

// ListFilter narrows List calls.
type ListFilter struct {
	Kind    ResourceKind
	Project string
	Status  string
	Limit   int
	Marker  string
}

// Page is one page of listed resources.
type Page struct {
	Items      []Ref
	NextMarker string
}

var (
	ErrBackendUnavailable = errors.New("backend_unavailable")
	ErrResourceBusy       = errors.New("resource_busy")
	ErrQuotaExceeded      = errors.New("quota_exceeded")
)
