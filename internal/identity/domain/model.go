// Package domain contains core types for the identity service.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Role names the control plane understands. Role strings it does not
// recognize pass through unchanged; they simply never match an admin check.
const (
	RoleAdmin     = "ADMIN"
	RoleAdminSale = "ADMIN_SALE"
	RoleAdminIT   = "ADMIN_IT"
	RoleUser      = "USER"
)

// AdminRoles are the roles allowed to operate on other users' resources.
var AdminRoles = []string{RoleAdmin, RoleAdminSale, RoleAdminIT}

// User is a control-plane account. Role is a comma-joined role string,
// e.g. "ADMIN,ADMIN_IT".
type User struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	Email        string            `gorm:"type:text;not null;uniqueIndex"`
	Name         string            `gorm:"type:text"`
	Role         string            `gorm:"type:text;not null;default:'USER'"`
	PasswordHash *string           `gorm:"type:text"`
	Active       bool              `gorm:"not null;default:true"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Roles splits the comma-joined role column into individual role names.
func (u User) Roles() []string {
	parts := strings.Split(u.Role, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if r := strings.TrimSpace(p); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// IsAdmin reports whether any of the user's roles is an admin role.
func (u User) IsAdmin() bool {
	for _, r := range u.Roles() {
		for _, admin := range AdminRoles {
			if r == admin {
				return true
			}
		}
	}
	return false
}

// Session is a persisted login session. The raw token is never stored,
// only its SHA-256 hash.
type Session struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"column:user_id;not null;index"`
	SessionTokenHash string       `gorm:"column:session_token_hash;type:text;not null;uniqueIndex"`
	UserAgent        string       `gorm:"column:user_agent;type:text"`
	IPAddress        string       `gorm:"column:ip_address;type:text"`
	ExpiresAt        time.Time    `gorm:"column:expires_at;not null;index"`
	RevokedAt        *time.Time   `gorm:"column:revoked_at"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	LastSeenAt       time.Time    `gorm:"column:last_seen_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "sessions" }
