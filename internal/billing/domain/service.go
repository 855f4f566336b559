package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	UserID snowflake.ID
	Limit  int32
	Cursor string
}

type Service interface {
	// ListForUser returns the actor-visible ledger slice, newest first.
	ListForUser(ctx context.Context, filter ListFilter) ([]*Entry, string, error)
	FindByOrder(ctx context.Context, orderID snowflake.ID) ([]*Entry, error)

	// Append posts one ledger row. Only the payment reconciler calls this.
	Append(ctx context.Context, entry *Entry) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	ListByUser(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
	ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]*Entry, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*Entry, error)
}
