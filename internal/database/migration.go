package database

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/marminbh/popup-pos/internal/config"
)

// DefaultMigrationsSource is where the binaries look for migrations,
// relative to the working directory
const DefaultMigrationsSource = "file://db/migrations"

// RunMigrations applies all pending migrations from source
func RunMigrations(cfg *config.DatabaseConfig, source string, logger *zap.Logger) error {
	m, err := migrate.New(source, cfg.MigrationURL())
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if logger != nil {
		version, dirty, _ := m.Version()
		logger.Info("Database migrations applied successfully",
			zap.Uint("version", version),
			zap.Bool("dirty", dirty),
		)
	}
	return nil
}
