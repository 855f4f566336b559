package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindProduct(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	var product domain.Product
	err := db.WithContext(ctx).First(&product, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (r *repo) ListActiveProducts(ctx context.Context, db *gorm.DB) ([]*domain.Product, error) {
	var products []*domain.Product
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order("id asc").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (r *repo) ListActivePromotions(ctx context.Context, db *gorm.DB, now time.Time) ([]*domain.Promotion, error) {
	var promotions []*domain.Promotion
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Where("valid_from <= ? AND valid_until >= ?", now.UTC(), now.UTC()).
		Order("discount_percent desc, id asc").
		Find(&promotions).Error
	if err != nil {
		return nil, err
	}
	return promotions, nil
}
