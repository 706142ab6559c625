package rating

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/soundnetapp/soundnet-core/internal/domain"
	"github.com/soundnetapp/soundnet-core/pkg/database"
	"gorm.io/gorm/clause"
)

// ratingSnapshot is the persisted form of an aggregate, one row per
// song
type ratingSnapshot struct {
	SubjectID string    `gorm:"primaryKey;column:subject_id"`
	Sum       float64   `gorm:"column:sum"`
	Count     int       `gorm:"column:count"`
	Histogram string    `gorm:"column:histogram"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (ratingSnapshot) TableName() string {
	return "rating_snapshots"
}

// SnapshotCache persists the last seen aggregate per song in local
// storage so aggregates survive restarts and outages
type SnapshotCache struct {
	db *database.SQLite

	mu     sync.RWMutex
	loaded map[string]domain.AggregateRating
}

// NewSnapshotCache opens the snapshot cache over the local database
func NewSnapshotCache(db *database.SQLite) (*SnapshotCache, error) {
	if err := db.DB.AutoMigrate(&ratingSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate rating snapshots: %w", err)
	}

	var rows []ratingSnapshot
	if err := db.DB.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load rating snapshots: %w", err)
	}

	loaded := make(map[string]domain.AggregateRating, len(rows))
	for _, row := range rows {
		agg, err := row.aggregate()
		if err != nil {
			continue
		}
		loaded[row.SubjectID] = agg
	}

	return &SnapshotCache{db: db, loaded: loaded}, nil
}

// Save upserts the aggregate for its song
func (c *SnapshotCache) Save(agg domain.AggregateRating) error {
	histogram, err := json.Marshal(agg.Histogram)
	if err != nil {
		return fmt.Errorf("failed to encode histogram: %w", err)
	}

	row := ratingSnapshot{
		SubjectID: agg.SubjectID,
		Sum:       agg.Sum,
		Count:     agg.Count,
		Histogram: string(histogram),
		UpdatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.loaded[agg.SubjectID] = agg
	c.mu.Unlock()

	err = c.db.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subject_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to persist rating snapshot: %w", err)
	}
	return nil
}

// Clear drops every cached aggregate, for sign-out
func (c *SnapshotCache) Clear() error {
	c.mu.Lock()
	c.loaded = make(map[string]domain.AggregateRating)
	c.mu.Unlock()

	err := c.db.DB.Where("1 = 1").Delete(&ratingSnapshot{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear rating snapshots: %w", err)
	}
	return nil
}

// Load returns the cached aggregate for the song, if any
func (c *SnapshotCache) Load(subjectID string) (domain.AggregateRating, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	agg, ok := c.loaded[subjectID]
	return agg, ok
}

func (r ratingSnapshot) aggregate() (domain.AggregateRating, error) {
	histogram := make(map[string]int)
	if err := json.Unmarshal([]byte(r.Histogram), &histogram); err != nil {
		return domain.AggregateRating{}, err
	}
	return domain.AggregateRating{
		SubjectID: r.SubjectID,
		Sum:       r.Sum,
		Count:     r.Count,
		Histogram: histogram,
	}, nil
}
