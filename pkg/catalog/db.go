// Package catalog reads and writes the relational side of the pipeline:
// internal and scraped products, load batches and match results.
package catalog

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/config"
)

// Open connects to the configured database and creates missing tables.
// Idle connections are not kept, so each operation opens and closes its own.
func Open(cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.URL)
	case "sqlite":
		dialector = sqlite.Open(cfg.URL)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}

	log.Info("Connecting to database...", "driver", cfg.Driver)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get connection pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(0)

	if err := Migrate(db); err != nil {
		log.Error("Auto migration failed", "error", err)
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.InternalProduct{},
		&models.ExternalProduct{},
		&models.LoadBatch{},
		&models.ResultRow{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	return nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
