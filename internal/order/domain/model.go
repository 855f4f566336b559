// Package domain contains the order state machine types.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	providerdomain "github.com/smallorbit/nebula/internal/provider/domain"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusNew            Status = "NEW"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusProcessing     Status = "PROCESSING"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusCanceled       Status = "CANCELED"
)

type Type string

const (
	TypeNormal  Type = "normal"
	TypeTrial   Type = "trial"
	TypeRenewal Type = "renewal"
)

// LineState is the per-line provisioning outcome. A line leaves "pending"
// exactly once; "unknown" marks a timed-out backend call whose real outcome
// the reconciliation sweep resolves later.
type LineState string

const (
	LinePending     LineState = "pending"
	LineInFlight    LineState = "in_flight"
	LineProvisioned LineState = "provisioned"
	LineFailed      LineState = "failed"
	LineUnknown     LineState = "unknown"
)

// transitions is the forward edge set of the order state machine. CANCELED
// is reachable from NEW and PENDING_PAYMENT only; COMPLETED orders re-enter
// PENDING_PAYMENT solely through an explicit renewal.
var transitions = map[Status][]Status{
	StatusNew:            {StatusPendingPayment, StatusProcessing, StatusCanceled},
	StatusPendingPayment: {StatusProcessing, StatusCanceled},
	StatusProcessing:     {StatusCompleted, StatusFailed},
	StatusCompleted:      {StatusPendingPayment},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a purchase intent. It is never deleted; terminal states preserve
// the audit trail.
type Order struct {
	ID     snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID snowflake.ID `json:"user_id" gorm:"column:user_id;not null;index"`
	Type   Type         `json:"type" gorm:"type:text;not null;default:'normal'"`
	Status Status       `json:"status" gorm:"type:text;not null;index"`

	Currency  string `json:"currency" gorm:"type:text;not null"`
	Price     int64  `json:"price" gorm:"not null"`
	PricePaid int64  `json:"price_paid" gorm:"column:price_paid;not null;default:0"`

	RegionID       string `json:"region_id" gorm:"column:region_id;type:text;not null"`
	DurationMonths int    `json:"duration_months" gorm:"column:duration_months;not null"`

	// ProvisionRunID identifies the most recent provisioning run, for log
	// correlation across line outcomes.
	ProvisionRunID string `json:"provision_run_id,omitempty" gorm:"column:provision_run_id;type:text"`

	// ParentOrderID links a renewal to the order it extends.
	ParentOrderID *snowflake.ID `json:"parent_order_id,omitempty" gorm:"column:parent_order_id"`

	Settings datatypes.JSONMap `json:"settings" gorm:"type:jsonb"`

	Lines []OrderProduct `json:"lines" gorm:"foreignKey:OrderID"`

	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"column:expires_at;index"`

	// CleanedAt marks that the expiry sweep already released this order's
	// backend resources.
	CleanedAt *time.Time `json:"cleaned_at,omitempty" gorm:"column:cleaned_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// Resolved reports whether every line reached a terminal per-line outcome.
func (o Order) Resolved() bool {
	for _, line := range o.Lines {
		switch line.State {
		case LineProvisioned, LineFailed:
		default:
			return false
		}
	}
	return true
}

// AllProvisioned reports whether every line succeeded.
func (o Order) AllProvisioned() bool {
	for _, line := range o.Lines {
		if line.State != LineProvisioned {
			return false
		}
	}
	return true
}

// OrderProduct is one line item: a product, a quantity and the chosen
// options, provisioned independently of its siblings.
type OrderProduct struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID   snowflake.ID `json:"order_id" gorm:"column:order_id;not null;index"`
	ProductID snowflake.ID `json:"product_id" gorm:"column:product_id;not null"`

	ResourceKind providerdomain.ResourceKind `json:"resource_kind" gorm:"column:resource_kind;type:text;not null"`
	Name         string                      `json:"name" gorm:"type:text;not null"`
	Quantity     int                         `json:"quantity" gorm:"not null"`
	Options      datatypes.JSONMap           `json:"options" gorm:"type:jsonb"`

	// Pricing is locked at submission; the catalog may change afterwards
	// without affecting this line.
	UnitPrice     int64  `json:"unit_price" gorm:"column:unit_price;not null"`
	LineTotal     int64  `json:"line_total" gorm:"column:line_total;not null"`
	PromotionCode string `json:"promotion_code,omitempty" gorm:"column:promotion_code;type:text"`

	State LineState `json:"state" gorm:"type:text;not null;default:'pending'"`

	// Backend pointers. The backend is the authority for live state; these
	// are cache plus correlation data.
	ClusterName   string     `json:"cluster_name,omitempty" gorm:"column:cluster_name;type:text"`
	ResourceID    string     `json:"resource_id,omitempty" gorm:"column:resource_id;type:text"`
	LastStatus    string     `json:"last_status,omitempty" gorm:"column:last_status;type:text"`
	FailureReason string     `json:"failure_reason,omitempty" gorm:"column:failure_reason;type:text"`
	ProvisionedAt *time.Time `json:"provisioned_at,omitempty" gorm:"column:provisioned_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (OrderProduct) TableName() string { return "order_products" }

// ResourceName is the deterministic backend name for a line. The line ID
// suffix makes the at-most-once create verifiable: a timed-out call can be
// resolved later by looking the name up on the backend.
func ResourceName(line *OrderProduct) string {
	return fmt.Sprintf("%s-%s", slug.Make(line.Name), line.ID)
}
