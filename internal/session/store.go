package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/soundnetapp/soundnet-core/pkg/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const sessionKey = "session"

// sessionRecord is the single persisted session row
type sessionRecord struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Token     string    `gorm:"column:token"`
	UserID    string    `gorm:"column:user_id"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (sessionRecord) TableName() string {
	return "sessions"
}

// sessionStore persists the signed-in session token in local storage
// so the user stays signed in across launches
type sessionStore struct {
	db *database.SQLite
}

func newSessionStore(db *database.SQLite) (*sessionStore, error) {
	if err := db.DB.AutoMigrate(&sessionRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sessions: %w", err)
	}
	return &sessionStore{db: db}, nil
}

func (s *sessionStore) Save(token, userID string) error {
	record := sessionRecord{
		Key:       sessionKey,
		Token:     token,
		UserID:    userID,
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (s *sessionStore) Load() (string, bool, error) {
	var record sessionRecord
	err := s.db.DB.First(&record, "key = ?", sessionKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load session: %w", err)
	}
	return record.Token, true, nil
}

func (s *sessionStore) Clear() error {
	err := s.db.DB.Delete(&sessionRecord{}, "key = ?", sessionKey).Error
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
