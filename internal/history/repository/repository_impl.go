package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/history/domain"
	"github.com/smallorbit/nebula/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, req domain.ListRequest) ([]*domain.Record, error) {
	q := db.WithContext(ctx).Model(&domain.Record{}).Order("id desc")

	if req.ActorID != nil {
		q = q.Where("actor_id = ?", *req.ActorID)
	}
	if req.Action != "" {
		q = q.Where("action = ?", req.Action)
	}
	if req.Cursor != "" {
		cursor, err := pagination.DecodeCursor(req.Cursor)
		if err != nil {
			return nil, domain.ErrInvalidCursor
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, domain.ErrInvalidCursor
		}
		q = q.Where("id < ?", cursorID)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	var records []*domain.Record
	if err := q.Limit(int(limit) + 1).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
