package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/clock"
	"github.com/smallorbit/nebula/internal/history/domain"
	"github.com/smallorbit/nebula/internal/history/masking"
	"github.com/smallorbit/nebula/internal/reqmeta"
	"github.com/smallorbit/nebula/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Node  *snowflake.Node
	Repo  domain.Repository
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	node  *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("history.service"),
		clock: p.Clock,
		node:  p.Node,
		repo:  p.Repo,
	}
}

func (s *service) Record(ctx context.Context, entry domain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return domain.ErrInvalidAction
	}

	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	content := masking.Redact(entry.Content)
	if requestID := reqmeta.RequestIDFromContext(ctx); requestID != "" {
		if content == nil {
			content = map[string]any{}
		}
		content["request_id"] = requestID
	}

	record := &domain.Record{
		ID:         s.node.Generate(),
		Action:     action,
		ActorID:    entry.ActorID,
		TargetID:   entry.TargetID,
		TargetType: targetType,
		TargetRef:  entry.TargetRef,
		Content:    datatypes.JSONMap(content),
		IPAddress:  reqmeta.IPAddressFromContext(ctx),
		UserAgent:  reqmeta.UserAgentFromContext(ctx),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		s.log.Warn("write history record", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
		req.Limit = limit
	}

	records, err := s.repo.List(ctx, s.db, req)
	if err != nil {
		return domain.ListResponse{}, err
	}

	resp := domain.ListResponse{Records: records}
	if len(records) > int(limit) {
		resp.Records = records[:limit]
		cursor, err := pagination.EncodeCursor(pagination.Cursor{
			ID: resp.Records[len(resp.Records)-1].ID.String(),
		})
		if err != nil {
			return domain.ListResponse{}, err
		}
		resp.NextCursor = cursor
	}
	return resp, nil
}
