package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	GetProduct(ctx context.Context, id snowflake.ID) (*Product, error)
	// ListProducts returns the active storefront catalog.
	ListProducts(ctx context.Context) ([]*Product, error)
	// Quote prices quantity units of a product over durationMonths, with the
	// best applicable promotion already deducted.
	Quote(ctx context.Context, id snowflake.ID, quantity int, durationMonths int, now time.Time) (Quote, error)
	PromotionsFor(ctx context.Context, product Product, now time.Time) ([]Promotion, error)
}

type Repository interface {
	FindProduct(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
	ListActiveProducts(ctx context.Context, db *gorm.DB) ([]*Product, error)
	ListActivePromotions(ctx context.Context, db *gorm.DB, now time.Time) ([]*Promotion, error)
}

// Quote is a locked price for one order line.
type Quote struct {
	Product       Product
	Quantity      int
	Duration      int
	Currency      string
	ListPrice     int64
	Discount      int64
	FinalPrice    int64
	PromotionCode string
}

var (
	ErrProductNotFound = errors.New("product_not_found")
	ErrProductInactive = errors.New("product_inactive")
	ErrInvalidQuantity = errors.New("invalid_quantity")
)
