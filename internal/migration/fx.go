package migration

import (
	billingdomain "github.com/smallorbit/nebula/internal/billing/domain"
	catalogdomain "github.com/smallorbit/nebula/internal/catalog/domain"
	"github.com/smallorbit/nebula/internal/config"
	historydomain "github.com/smallorbit/nebula/internal/history/domain"
	identitydomain "github.com/smallorbit/nebula/internal/identity/domain"
	orderdomain "github.com/smallorbit/nebula/internal/order/domain"
	paymentdomain "github.com/smallorbit/nebula/internal/payment/domain"
	"github.com/smallorbit/nebula/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite development mode has no migration driver; let the ORM
			// build the schema.
			if err := conn.AutoMigrate(
				&identitydomain.User{}, &identitydomain.Session{},
				&catalogdomain.Product{}, &catalogdomain.Promotion{},
				&orderdomain.Order{}, &orderdomain.OrderProduct{},
				&billingdomain.Entry{},
				&paymentdomain.EventRecord{},
				&historydomain.Record{},
			); err != nil {
				return err
			}
		}

		if !cfg.Bootstrap.EnsureDefaults {
			return nil
		}
		if err := seed.EnsureAdminUser(conn, cfg.Bootstrap.AdminEmail, cfg.Bootstrap.AdminPassword); err != nil {
			return err
		}
		return seed.EnsureBaseCatalog(conn)
	}),
)
