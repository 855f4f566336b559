package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/billing/domain"
	"github.com/smallorbit/nebula/pkg/db/pagination"
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
		log:  p.Log.Named("billing.service"),
		repo: p.Repo,
	}
}

func (s *service) ListForUser(ctx context.Context, filter domain.ListFilter) ([]*domain.Entry, string, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
		filter.Limit = limit
	}
	entries, err := s.repo.ListByUser(ctx, s.db, filter)
	if err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(entries) > int(limit) {
		entries = entries[:limit]
		cursor, err := pagination.EncodeCursor(pagination.Cursor{ID: entries[len(entries)-1].ID.String()})
		if err != nil {
			return nil, "", err
		}
		nextCursor = cursor
	}
	return entries, nextCursor, nil
}

func (s *service) FindByOrder(ctx context.Context, orderID snowflake.ID) ([]*domain.Entry, error) {
	return s.repo.ListByOrder(ctx, s.db, orderID)
}

func (s *service) Append(ctx context.Context, entry *domain.Entry) error {
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		return err
	}
	s.log.Info("ledger entry posted",
		zap.String("entry_id", entry.ID.String()),
		zap.String("kind", string(entry.Kind)),
		zap.Int64("amount", entry.Amount),
		zap.String("reference", entry.Reference),
	)
	return nil
}
