package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soundnetapp/soundnet-core/internal/domain"
	"github.com/soundnetapp/soundnet-core/pkg/database"
	"gorm.io/gorm/clause"
)

// Row key, kept compatible with the AsyncStorage keys the mobile
// client used.
const tokenKey = "spotifyToken"

type tokenRecord struct {
	Key          string     `gorm:"column:key;primaryKey"`
	AccessToken  string     `gorm:"column:access_token;not null"`
	RefreshToken string     `gorm:"column:refresh_token;not null;default:''"`
	TokenType    string     `gorm:"column:token_type;not null;default:''"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (tokenRecord) TableName() string {
	return "tokens"
}

// sqliteStore implements Store backed by the local SQLite database.
// Reads are served from memory; writes update memory first and then
// persist, so a failed disk write degrades durability but never the
// running session.
type sqliteStore struct {
	db   *database.SQLite
	mu   sync.RWMutex
	pair domain.TokenPair
}

// NewSQLiteStore opens the durable token store and loads any
// previously persisted pair
func NewSQLiteStore(db *database.SQLite) (Store, error) {
	if err := db.DB.AutoMigrate(&tokenRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate token store: %w", err)
	}

	s := &sqliteStore{db: db}

	var record tokenRecord
	result := db.DB.Where("key = ?", tokenKey).Limit(1).Find(&record)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load persisted token: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.pair = domain.TokenPair{
			AccessToken:  record.AccessToken,
			RefreshToken: record.RefreshToken,
			TokenType:    record.TokenType,
			ExpiresAt:    record.ExpiresAt,
		}
	}

	return s, nil
}

// Get returns the last known pair, no I/O
func (s *sqliteStore) Get() (domain.TokenPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, !s.pair.IsZero()
}

// Set replaces the pair in memory, then persists it. A persistence
// failure is reported as ErrPersistence with memory already updated.
func (s *sqliteStore) Set(ctx context.Context, pair domain.TokenPair) error {
	s.mu.Lock()
	s.pair = pair
	s.mu.Unlock()

	record := tokenRecord{
		Key:          tokenKey,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresAt:    pair.ExpiresAt,
		UpdatedAt:    time.Now(),
	}

	err := s.db.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to persist token pair: %w", errors.Join(ErrPersistence, err))
	}

	return nil
}

// Clear removes the pair from memory and durable storage
func (s *sqliteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.pair = domain.TokenPair{}
	s.mu.Unlock()

	err := s.db.DB.WithContext(ctx).Where("key = ?", tokenKey).Delete(&tokenRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear persisted token pair: %w", errors.Join(ErrPersistence, err))
	}

	return nil
}
