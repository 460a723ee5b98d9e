// Package db owns the gorm connection and the stores built on it.
package db

import (
	"errors"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pysugar/search-insights/internal/db/models"
)

// ErrNotFound is returned by stores when the keyed row does not exist.
var ErrNotFound = errors.New("not found")

// AllModels lists every table the service migrates.
var AllModels = []any{
	&models.Credential{},
	&models.Session{},
	&models.CachedReport{},
	&models.IntentRecord{},
	&models.IntentLink{},
}

// InitDB opens the SQLite database at dbPath and runs migrations.
func InitDB(dbPath string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer; serialize through a single connection.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(AllModels...); err != nil {
		return nil, err
	}

	log.Info("database ready", zap.String("path", dbPath))
	return db, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
