// Package database opens and migrates the record store.
package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/finbarsvc/tickersvc/internal/config"
	"github.com/finbarsvc/tickersvc/pkg/metrics"
	"github.com/finbarsvc/tickersvc/pkg/models"
)

// Open connects to the configured record store, applies pool settings
// and migrates the schema.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		// Map driver duplicate-key failures onto gorm.ErrDuplicatedKey so
		// the service layer can answer Conflict.
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	connMaxLife := cfg.ConnMaxLifetime
	if connMaxLife == 0 {
		connMaxLife = time.Hour
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(connMaxLife)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	if err := db.AutoMigrate(&models.PriceBar{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}

// CollectPoolMetrics samples connection pool gauges every interval until
// stop is closed.
func CollectPoolMetrics(db *gorm.DB, driver string, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sqlDB, err := db.DB()
			if err != nil {
				continue
			}
			stats := sqlDB.Stats()
			metrics.DBOpenConns.WithLabelValues(driver).Set(float64(stats.OpenConnections))
			metrics.DBIdleConns.WithLabelValues(driver).Set(float64(stats.Idle))
			metrics.DBInUseConns.WithLabelValues(driver).Set(float64(stats.InUse))
		}
	}
}
