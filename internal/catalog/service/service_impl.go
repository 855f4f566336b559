package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/catalog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &service{
		db:   p.DB,
		log:  p.Log.Named("catalog.service"),
		repo: p.Repo,
	}
}

func (s *service) GetProduct(ctx context.Context, id snowflake.ID) (*domain.Product, error) {
	return s.repo.FindProduct(ctx, s.db, id)
}

func (s *service) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	return s.repo.ListActiveProducts(ctx, s.db)
}

func (s *service) PromotionsFor(ctx context.Context, product domain.Product, now time.Time) ([]domain.Promotion, error) {
	candidates, err := s.repo.ListActivePromotions(ctx, s.db, now)
	if err != nil {
		return nil, err
	}
	var out []domain.Promotion
	for _, promo := range candidates {
		if promo.Applicable(product, now) {
			out = append(out, *promo)
		}
	}
	return out, nil
}

func (s *service) Quote(ctx context.Context, id snowflake.ID, quantity, durationMonths int, now time.Time) (domain.Quote, error) {
	if quantity <= 0 || durationMonths <= 0 {
		return domain.Quote{}, domain.ErrInvalidQuantity
	}

	product, err := s.repo.FindProduct(ctx, s.db, id)
	if err != nil {
		return domain.Quote{}, err
	}
	if !product.Active {
		return domain.Quote{}, domain.ErrProductInactive
	}

	quote := domain.Quote{
		Product:   *product,
		Quantity:  quantity,
		Duration:  durationMonths,
		Currency:  product.Currency,
		ListPrice: product.UnitPrice * int64(quantity) * int64(durationMonths),
	}

	promos, err := s.PromotionsFor(ctx, *product, now)
	if err != nil {
		return domain.Quote{}, err
	}
	if best := bestPromotion(promos); best != nil {
		quote.Discount = quote.ListPrice * int64(best.DiscountPercent) / 100
		quote.PromotionCode = best.Code
	}
	quote.FinalPrice = quote.ListPrice - quote.Discount

	return quote, nil
}

func bestPromotion(promos []domain.Promotion) *domain.Promotion {
	var best *domain.Promotion
	for i := range promos {
		if best == nil || promos[i].DiscountPercent > best.DiscountPercent {
			best = &promos[i]
		}
	}
	return best
}
