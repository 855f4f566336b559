package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/gosimple/slug"
	"github.com/smallorbit/nebula/internal/catalog/domain"
	"github.com/smallorbit/nebula/internal/catalog/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", slug.Make(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Product{}, &domain.Promotion{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:   db,
		Log:  zaptest.NewLogger(t),
		Repo: repository.Provide(),
	})
	return svc, db, node
}

func seedProduct(t *testing.T, db *gorm.DB, node *snowflake.Node, unitPrice int64, active bool) domain.Product {
	t.Helper()
	product := domain.Product{
		ID:           node.Generate(),
		Name:         "standard-compute",
		ResourceKind: "compute",
		Currency:     "VND",
		UnitPrice:    unitPrice,
		Active:       active,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, db.Create(&product).Error)
	return product
}

func TestQuotePricesQuantityTimesDuration(t *testing.T) {
	svc, db, node := newTestService(t)
	product := seedProduct(t, db, node, 100_000, true)

	quote, err := svc.Quote(context.Background(), product.ID, 2, 3, time.Now().UTC())
	require.NoError(t, err)

	assert.Equal(t, int64(600_000), quote.ListPrice)
	assert.Equal(t, int64(600_000), quote.FinalPrice)
	assert.Equal(t, int64(0), quote.Discount)
	assert.Equal(t, "VND", quote.Currency)
	assert.Empty(t, quote.PromotionCode)
}

func TestQuoteAppliesBestPromotion(t *testing.T) {
	svc, db, node := newTestService(t)
	product := seedProduct(t, db, node, 100_000, true)

	now := time.Now().UTC()
	for _, p := range []domain.Promotion{
		{
			ID:              node.Generate(),
			Code:            "SPRING10",
			ResourceKind:    "compute",
			DiscountPercent: 10,
			ValidFrom:       now.Add(-time.Hour),
			ValidUntil:      now.Add(time.Hour),
			Active:          true,
			CreatedAt:       now,
		},
		{
			ID:              node.Generate(),
			Code:            "LAUNCH25",
			ProductID:       &product.ID,
			DiscountPercent: 25,
			ValidFrom:       now.Add(-time.Hour),
			ValidUntil:      now.Add(time.Hour),
			Active:          true,
			CreatedAt:       now,
		},
		{
			ID:              node.Generate(),
			Code:            "EXPIRED50",
			DiscountPercent: 50,
			ValidFrom:       now.Add(-48 * time.Hour),
			ValidUntil:      now.Add(-24 * time.Hour),
			Active:          true,
			CreatedAt:       now,
		},
	} {
		require.NoError(t, db.Create(&p).Error)
	}

	quote, err := svc.Quote(context.Background(), product.ID, 1, 1, now)
	require.NoError(t, err)

	assert.Equal(t, "LAUNCH25", quote.PromotionCode)
	assert.Equal(t, int64(25_000), quote.Discount)
	assert.Equal(t, int64(75_000), quote.FinalPrice)
}

func TestQuoteRejectsInvalidQuantity(t *testing.T) {
	svc, db, node := newTestService(t)
	product := seedProduct(t, db, node, 100_000, true)

	_, err := svc.Quote(context.Background(), product.ID, 0, 1, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = svc.Quote(context.Background(), product.ID, 1, -1, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestQuoteRejectsInactiveProduct(t *testing.T) {
	svc, db, node := newTestService(t)
	product := seedProduct(t, db, node, 100_000, false)

	_, err := svc.Quote(context.Background(), product.ID, 1, 1, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrProductInactive)
}

func TestQuoteUnknownProduct(t *testing.T) {
	svc, _, node := newTestService(t)

	_, err := svc.Quote(context.Background(), node.Generate(), 1, 1, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}
