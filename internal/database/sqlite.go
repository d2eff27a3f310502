package database

import (
	"fmt"

	"github.com/collabboard/backend/internal/collab"
	"github.com/collabboard/backend/internal/documents"
	"github.com/collabboard/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection, performs schema migrations,
// and clears persisted active sessions. A restart orphans every session row:
// the connections that owned them died with the previous process, so
// resetting here saves the reaper from aging them out one sweep at a time.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&users.User{},
		&documents.Document{},
		&documents.DocumentVersion{},
		&collab.ActiveSession{},
	); err != nil {
		return nil, err
	}

	if err := db.Where("1 = 1").Delete(&collab.ActiveSession{}).Error; err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
