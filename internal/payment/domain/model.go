// Package domain contains payment reconciliation types.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallorbit/nebula/internal/order/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrUnsupportedCurrency = errors.New("unsupported_currency")
	ErrEventNotFound       = errors.New("payment_event_not_found")
)

// EventRecord is one received gateway callback. The (gateway,
// provider_event_id) pair is unique: a redelivered callback maps onto the
// stored row instead of a second application.
type EventRecord struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	Gateway         string       `json:"gateway" gorm:"type:text;not null;uniqueIndex:idx_payment_events_gateway_event,priority:1"`
	ProviderEventID string       `json:"provider_event_id" gorm:"column:provider_event_id;type:text;not null;uniqueIndex:idx_payment_events_gateway_event,priority:2"`

	OrderID      snowflake.ID   `json:"order_id" gorm:"column:order_id;not null;index"`
	ResponseCode string         `json:"response_code" gorm:"column:response_code;type:text"`
	Amount       int64          `json:"amount"`
	Payload      datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`

	ReceivedAt  time.Time  `json:"received_at" gorm:"column:received_at;not null"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" gorm:"column:processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// StartResult is the gateway redirect descriptor returned at checkout.
type StartResult struct {
	Gateway string `json:"gateway"`
	PayURL  string `json:"pay_url"`
}

// FinishResult is the reply sent back to the gateway plus the domain
// outcome. RspCode acknowledges receipt of the callback; it says nothing
// about whether the payment itself succeeded.
type FinishResult struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`

	OrderID          snowflake.ID       `json:"-"`
	PaymentSucceeded bool               `json:"-"`
	AlreadyProcessed bool               `json:"-"`
	OrderStatus      orderdomain.Status `json:"-"`
}

// Service is the payment reconciler.
type Service interface {
	// Start builds the gateway redirect for a PENDING_PAYMENT order.
	Start(ctx context.Context, order *orderdomain.Order, clientIP string) (*StartResult, error)

	// Finish applies one gateway callback. It is idempotent; the returned
	// FinishResult is always safe to hand back to the gateway, and a
	// non-nil error means the acknowledgment itself could not be produced.
	Finish(ctx context.Context, params map[string]string) (*FinishResult, error)
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) error
	FindEvent(ctx context.Context, db *gorm.DB, gateway, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
