// Package seed bootstraps a fresh installation with an admin account and a
// starter catalog so the API is usable immediately after first start.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallorbit/nebula/internal/catalog/domain"
	identitydomain "github.com/smallorbit/nebula/internal/identity/domain"
	"github.com/smallorbit/nebula/internal/identity/password"
	providerdomain "github.com/smallorbit/nebula/internal/provider/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultAdminEmail    = "admin@nebula.local"
	defaultAdminPassword = "admin"
	defaultAdminName     = "Nebula Admin"
)

// EnsureAdminUser creates the local admin account if no admin exists yet.
// Email and password override the defaults when non-empty.
func EnsureAdminUser(db *gorm.DB, email, pass string) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if email == "" {
		email = defaultAdminEmail
	}
	if pass == "" {
		pass = defaultAdminPassword
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&identitydomain.User{}).
			Where("role LIKE ?", "%"+identitydomain.RoleAdmin+"%").
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		hashed, err := password.Hash(pass)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		user := identitydomain.User{
			ID:           node.Generate(),
			Email:        strings.ToLower(email),
			Name:         defaultAdminName,
			Role:         identitydomain.RoleAdmin,
			PasswordHash: &hashed,
			Active:       true,
			Metadata:     datatypes.JSONMap{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.Create(&user).Error
	})
}

// EnsureBaseCatalog seeds a minimal product set on an empty catalog.
func EnsureBaseCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&catalogdomain.Product{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC()
		products := []catalogdomain.Product{
			{
				Name:         "Compute Standard 2",
				ResourceKind: providerdomain.KindCompute,
				Currency:     "VND",
				UnitPrice:    250_000,
				Options:      datatypes.JSONMap{"cpu": "2", "ram_gb": "4", "disk_gb": "40"},
			},
			{
				Name:         "Private Network",
				ResourceKind: providerdomain.KindNetwork,
				Currency:     "VND",
				UnitPrice:    0,
			},
			{
				Name:         "Managed Database Small",
				ResourceKind: providerdomain.KindDatabase,
				Currency:     "VND",
				UnitPrice:    500_000,
				Options:      datatypes.JSONMap{"engine": "postgres", "storage_gb": "20"},
			},
		}
		for i := range products {
			products[i].ID = node.Generate()
			products[i].Active = true
			products[i].CreatedAt = now
			products[i].UpdatedAt = now
			if err := tx.Create(&products[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
