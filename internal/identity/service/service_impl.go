package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallorbit/nebula/internal/clock"
	"github.com/smallorbit/nebula/internal/identity/domain"
	"github.com/smallorbit/nebula/internal/identity/password"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sessionTTL = 7 * 24 * time.Hour

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
		log:   p.Log.Named("identity.service"),
		clock: p.Clock,
		node:  p.Node,
		repo:  p.Repo,
	}
}

func (s *service) Login(ctx context.Context, email, pass string, meta domain.SessionMeta) (*domain.LoginResult, error) {
	user, err := s.repo.FindUserByEmail(ctx, s.db, email)
	if err != nil {
		if err == domain.ErrUserNotFound {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Active {
		return nil, domain.ErrUserInactive
	}
	if user.PasswordHash == nil || !password.Verify(pass, *user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	rawToken, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:               s.node.Generate(),
		UserID:           user.ID,
		SessionTokenHash: hashToken(rawToken),
		UserAgent:        meta.UserAgent,
		IPAddress:        meta.IPAddress,
		ExpiresAt:        now.Add(sessionTTL),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := s.repo.CreateSession(ctx, s.db, session); err != nil {
		return nil, err
	}

	s.log.Info("session created",
		zap.String("user_id", user.ID.String()),
		zap.Time("expires_at", session.ExpiresAt),
	)
	return &domain.LoginResult{
		User:      *user,
		Token:     rawToken,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *service) VerifyToken(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrSessionExpired
	}
	session, err := s.repo.FindSessionByTokenHash(ctx, s.db, hashToken(token))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil || now.After(session.ExpiresAt) {
		return nil, domain.ErrSessionExpired
	}

	user, err := s.repo.FindUserByID(ctx, s.db, session.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, domain.ErrUserInactive
	}

	// Best effort; a stale last_seen_at never blocks the request.
	if err := s.repo.TouchSession(ctx, s.db, session.ID, now); err != nil {
		s.log.Warn("touch session failed", zap.Error(err))
	}
	return user, nil
}

func (s *service) Logout(ctx context.Context, token string) error {
	session, err := s.repo.FindSessionByTokenHash(ctx, s.db, hashToken(token))
	if err != nil {
		if err == domain.ErrSessionExpired {
			return nil
		}
		return err
	}
	return s.repo.RevokeSession(ctx, s.db, session.ID, s.clock.Now())
}

func (s *service) GetUser(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	return s.repo.FindUserByID(ctx, s.db, id)
}

func (s *service) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.repo.FindUserByEmail(ctx, s.db, email)
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
