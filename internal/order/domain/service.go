package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/opctx"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound = errors.New("order_not_found")
	ErrStaleStatus   = errors.New("order_status_changed")
)

// SubmitRequest is the checkout payload after transport decoding.
type SubmitRequest struct {
	RegionID       string
	DurationMonths int
	Type           Type
	Lines          []SubmitLine
	Settings       map[string]any

	// IncludeClusters / ExcludeClusters narrow cluster selection for every
	// line of this order.
	IncludeClusters []string
	ExcludeClusters []string
}

type SubmitLine struct {
	ProductID snowflake.ID
	Quantity  int
	Options   map[string]string
}

type ListFilter struct {
	UserID *snowflake.ID
	Status Status
	Limit  int32
	Cursor string
}

type Page struct {
	Orders     []*Order
	NextCursor string
}

// Service is the order orchestrator. Submit/Get/List/Renew/Cancel are
// caller-facing and take the operation context; MarkPaid and
// RunProvisioning are invoked by the payment reconciler and the sweeps.
type Service interface {
	Submit(ctx context.Context, op *opctx.Context, req SubmitRequest) (*Order, error)
	Get(ctx context.Context, op *opctx.Context, id snowflake.ID) (*Order, error)
	List(ctx context.Context, op *opctx.Context, filter ListFilter) (*Page, error)

	// MarkPaid moves a PENDING_PAYMENT order to PROCESSING and records the
	// paid amount. Any other starting state is InvalidStateTransition.
	MarkPaid(ctx context.Context, id snowflake.ID, amountPaid int64, reference string) (*Order, error)

	// RunProvisioning drives every unresolved line of a PROCESSING order,
	// in declared sequence, and finalizes the order status.
	RunProvisioning(ctx context.Context, id snowflake.ID) (*Order, error)

	Renew(ctx context.Context, op *opctx.Context, id snowflake.ID, months int) (*Order, error)
	Cancel(ctx context.Context, op *opctx.Context, id snowflake.ID) (*Order, error)
}

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, order *Order) error
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Order, error)

	// Transition performs the optimistic status move: the UPDATE is guarded
	// by the expected current status and reports ErrStaleStatus when zero
	// rows matched.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, updates map[string]any) error

	UpdateLine(ctx context.Context, db *gorm.DB, lineID snowflake.ID, updates map[string]any) error

	// ListUnresolvedLines returns in_flight and unknown lines older than
	// cutoff, for the reconciliation sweep.
	ListUnresolvedLines(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*OrderProduct, error)

	// ListProvisionedLines returns provisioned lines for the state-sync
	// sweep, oldest status refresh first.
	ListProvisionedLines(ctx context.Context, db *gorm.DB, limit int) ([]*OrderProduct, error)

	// ListExpiredOrders returns COMPLETED orders whose expiry passed and
	// whose resources have not been released yet.
	ListExpiredOrders(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Order, error)

	// MarkCleaned records that the expiry sweep released the order's
	// backend resources.
	MarkCleaned(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}
