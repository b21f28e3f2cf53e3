package migration

import (
	authdomain "github.com/reelay/reelay/internal/auth/domain"
	"github.com/reelay/reelay/internal/config"
	ratingdomain "github.com/reelay/reelay/internal/rating/domain"
	recdomain "github.com/reelay/reelay/internal/recommendation/domain"
	"github.com/reelay/reelay/internal/seed"
	titledomain "github.com/reelay/reelay/internal/title/domain"
	watchlistdomain "github.com/reelay/reelay/internal/watchlist/domain"
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
			// sqlite and mysql skip the embedded postgres migrations.
			if err := conn.AutoMigrate(
				&authdomain.User{},
				&authdomain.Session{},
				&titledomain.Title{},
				&titledomain.TrendingEntry{},
				&ratingdomain.Rating{},
				&watchlistdomain.Item{},
				&recdomain.Batch{},
				&recdomain.Recommendation{},
			); err != nil {
				return err
			}
		}

		if cfg.BootstrapDevUser {
			return seed.EnsureDevUser(conn)
		}
		return nil
	}),
)
