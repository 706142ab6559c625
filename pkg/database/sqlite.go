package database

import (
	"context"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLite represents the local on-device database used for the token
// pair, the app session token, and offline rating snapshots
type SQLite struct {
	DB *gorm.DB
}

// NewSQLite opens (creating if needed) the local database file.
// Pass ":memory:" for an ephemeral database in tests.
func NewSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	return &SQLite{DB: db}, nil
}

// Close closes the underlying connection
func (s *SQLite) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access local database: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the local database is usable
func (s *SQLite) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access local database: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
