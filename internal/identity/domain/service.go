package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrSessionExpired     = errors.New("session_expired")
	ErrUserNotFound       = errors.New("user_not_found")
	ErrUserInactive       = errors.New("user_inactive")
)

// LoginResult carries the freshly minted session token back to the caller.
// The raw token appears exactly once, here.
type LoginResult struct {
	User      User
	Token     string
	ExpiresAt time.Time
}

type SessionMeta struct {
	UserAgent string
	IPAddress string
}

type Service interface {
	Login(ctx context.Context, email, password string, meta SessionMeta) (*LoginResult, error)
	// VerifyToken resolves a raw session token to its user. Returns
	// ErrSessionExpired for expired or revoked sessions.
	VerifyToken(ctx context.Context, token string) (*User, error)
	Logout(ctx context.Context, token string) error
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

type Repository interface {
	FindUserByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error)
	CreateSession(ctx context.Context, db *gorm.DB, session *Session) error
	FindSessionByTokenHash(ctx context.Context, db *gorm.DB, hash string) (*Session, error)
	TouchSession(ctx context.Context, db *gorm.DB, id snowflake.ID, seenAt time.Time) error
	RevokeSession(ctx context.Context, db *gorm.DB, id snowflake.ID, revokedAt time.Time) error
}
