package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/order/domain"
	"github.com/smallorbit/nebula/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("order_products.id asc") }).
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Order, error) {
	q := db.WithContext(ctx).Model(&domain.Order{}).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("order_products.id asc") }).
		Order("id desc")

	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Cursor != "" {
		cursor, err := pagination.DecodeCursor(filter.Cursor)
		if err != nil {
			return nil, err
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, err
		}
		q = q.Where("id < ?", cursorID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	// One extra row signals another page.
	q = q.Limit(int(limit) + 1)

	var orders []*domain.Order
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, updates map[string]any) error {
	if !domain.CanTransition(from, to) {
		return domain.ErrStaleStatus
	}
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrStaleStatus
	}
	return nil
}

func (r *repo) UpdateLine(ctx context.Context, db *gorm.DB, lineID snowflake.ID, updates map[string]any) error {
	return db.WithContext(ctx).Model(&domain.OrderProduct{}).
		Where("id = ?", lineID).
		Updates(updates).Error
}

func (r *repo) ListUnresolvedLines(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*domain.OrderProduct, error) {
	var lines []*domain.OrderProduct
	err := db.WithContext(ctx).
		Where("state IN ?", []domain.LineState{domain.LineInFlight, domain.LineUnknown}).
		Where("updated_at < ?", cutoff).
		Order("updated_at asc").
		Limit(limit).
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) ListProvisionedLines(ctx context.Context, db *gorm.DB, limit int) ([]*domain.OrderProduct, error) {
	var lines []*domain.OrderProduct
	err := db.WithContext(ctx).
		Where("state = ?", domain.LineProvisioned).
		Order("updated_at asc").
		Limit(limit).
		Find(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) ListExpiredOrders(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := db.WithContext(ctx).
		Preload("Lines").
		Where("status = ?", domain.StatusCompleted).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Where("cleaned_at IS NULL").
		Order("expires_at asc").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repo) MarkCleaned(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{"cleaned_at": at, "updated_at": at}).Error
}
