// Package domain contains the billing ledger types. The ledger is
// read-mostly: rows are appended by the payment reconciler and never
// updated or deleted.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type EntryKind string

const (
	KindCharge     EntryKind = "charge"
	KindRefund     EntryKind = "refund"
	KindAdjustment EntryKind = "adjustment"
)

// Entry is one monetary event tied to a user and, usually, an order.
type Entry struct {
	ID      snowflake.ID  `json:"id" gorm:"primaryKey"`
	UserID  snowflake.ID  `json:"user_id" gorm:"column:user_id;not null;index"`
	OrderID *snowflake.ID `json:"order_id,omitempty" gorm:"column:order_id;index"`

	Kind     EntryKind `json:"kind" gorm:"type:text;not null"`
	Amount   int64     `json:"amount" gorm:"not null"`
	Currency string    `json:"currency" gorm:"type:text;not null"`

	// Reference is the gateway transaction id; unique so a duplicate
	// callback can never double-post a charge.
	Reference string `json:"reference" gorm:"type:text;uniqueIndex"`

	Metadata  datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt time.Time         `json:"created_at" gorm:"not null"`
}

func (Entry) TableName() string { return "billings" }

var ErrEntryNotFound = errors.New("billing_entry_not_found")
