package migrate

import (
	"context"
	"fmt"

	"github.com/coinsacademy/topup-backend/pkg/config"
	"github.com/coinsacademy/topup-backend/pkg/db"
	"github.com/coinsacademy/topup-backend/pkg/db/models"
	"github.com/coinsacademy/topup-backend/pkg/logger"
)

// MaybeRunDev brings a dev database up to date at boot when TOPUP_AUTO_MIGRATE
// is set. The SQL targets Postgres, so sqlite dev databases are built from
// the gorm models instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithField(ctx, "db_driver", cfg.DB.Driver)

	if cfg.DB.Driver == "sqlite" {
		if err := client.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("sqlite auto-migrate: %w", err)
		}
		logg.Info(ctx, "dev schema synced from models")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle: %w", err)
	}
	m, err := NewMigrator(sqlDB, Embedded(), nil)
	if err != nil {
		return err
	}
	applied, err := m.Up(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", applied), "dev migrations applied")
	return nil
}
