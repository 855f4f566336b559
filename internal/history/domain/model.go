// Package domain contains the audit history types. Records are immutable:
// only the audit wrapper inserts them, nothing updates or deletes them.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidCursor = errors.New("invalid_cursor")
)

type Record struct {
	ID     snowflake.ID `json:"id" gorm:"primaryKey"`
	Action string       `json:"action" gorm:"type:text;not null;index"`

	ActorID  *snowflake.ID `json:"actor_id,omitempty" gorm:"column:actor_id;index"`
	TargetID *snowflake.ID `json:"target_id,omitempty" gorm:"column:target_id;index"`

	TargetType string `json:"target_type" gorm:"column:target_type;type:text;not null"`
	TargetRef  string `json:"target_ref,omitempty" gorm:"column:target_ref;type:text"`

	// Content is the redacted input/output snapshot.
	Content datatypes.JSONMap `json:"content" gorm:"type:jsonb"`

	IPAddress string `json:"ip_address,omitempty" gorm:"column:ip_address;type:text"`
	UserAgent string `json:"user_agent,omitempty" gorm:"column:user_agent;type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (Record) TableName() string { return "histories" }

type Entry struct {
	Action     string
	ActorID    *snowflake.ID
	TargetID   *snowflake.ID
	TargetType string
	TargetRef  string
	Content    map[string]any
}

type ListRequest struct {
	ActorID *snowflake.ID
	Action  string
	Limit   int32
	Cursor  string
}

type ListResponse struct {
	Records    []*Record
	NextCursor string
}

type Service interface {
	// Record persists one redacted audit row. Failures are returned so the
	// wrapper can log them; domain outcomes never depend on them.
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	List(ctx context.Context, db *gorm.DB, req ListRequest) ([]*Record, error)
}
