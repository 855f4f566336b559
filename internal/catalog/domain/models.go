package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	providerdomain "github.com/smallorbit/nebula/internal/provider/domain"
	"gorm.io/datatypes"
)

// Product is one sellable infrastructure item. Pricing is authoritative
// here and locked into the order at submission time.
type Product struct {
	ID           snowflake.ID               `json:"id" gorm:"primaryKey"`
	Name         string                     `json:"name" gorm:"type:text;not null"`
	ResourceKind providerdomain.ResourceKind `json:"resource_kind" gorm:"type:text;not null"`
	Currency     string                     `json:"currency" gorm:"type:text;not null"`

	// UnitPrice is the price per unit per duration month, in the currency's
	// minor-free unit (VND has no minor unit).
	UnitPrice int64 `json:"unit_price" gorm:"not null"`

	// Options are the default per-kind settings merged under the buyer's
	// chosen options (flavor, image, engine, node count).
	Options datatypes.JSONMap `json:"options" gorm:"type:jsonb"`

	Active    bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }

// Promotion discounts matching products inside its validity window.
type Promotion struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	Code            string        `json:"code" gorm:"type:text;not null;uniqueIndex"`
	ProductID       *snowflake.ID `json:"product_id" gorm:"index"`
	ResourceKind    string        `json:"resource_kind" gorm:"type:text"`
	DiscountPercent int           `json:"discount_percent" gorm:"not null"`
	ValidFrom       time.Time     `json:"valid_from" gorm:"not null"`
	ValidUntil      time.Time     `json:"valid_until" gorm:"not null"`
	Active          bool          `json:"active" gorm:"not null;default:true"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null"`
}

func (Promotion) TableName() string { return "promotions" }

// Applicable reports whether the promotion covers the product at now.
func (p Promotion) Applicable(product Product, now time.Time) bool {
	if !p.Active || now.Before(p.ValidFrom) || now.After(p.ValidUntil) {
		return false
	}
	if p.ProductID != nil {
		return *p.ProductID == product.ID
	}
	if p.ResourceKind != "" {
		return p.ResourceKind == string(product.ResourceKind)
	}
	return true
}
