// Package db opens the MySQL-backed account registry.
package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sessionfleet/internal/model"
)

// Open connects to MySQL. TranslateError is on so unique-constraint
// violations surface as gorm.ErrDuplicatedKey for the store to classify.
func Open(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	return gdb, nil
}

// Migrate runs database migrations for all models
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&model.Account{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
