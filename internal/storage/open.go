package storage

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	gormlogger "gorm.io/gorm/logger"

	"gorm.io/gorm"
)

// Open opens the embedded memory store at dsn and runs AutoMigrate as a
// convenience for tests and ad hoc tooling; production startup should run
// the golang-migrate migrations via Migrator instead so schema changes are
// versioned. It uses the pure-Go modernc.org/sqlite driver (registered as
// "sqlite" by this package's migrator.go) rather than gorm's default
// mattn/go-sqlite3-oriented dialector, so the resulting binary never links
// CGo.
func Open(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dialector := sqlite.Dialector{DriverName: "sqlite", DSN: dsn}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates tables for AllModels directly through
// GORM, bypassing golang-migrate. Intended for tests and quick-start
// tooling, not for an operator-managed deployment.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
