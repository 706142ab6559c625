// Package rating computes live song rating aggregates. Each rater
// holds one document per song; aggregates are always recomputed from
// the full rating set rather than incrementally adjusted, so a
// replayed or repaired backend never leaves a drifted average behind.
package rating

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soundnetapp/soundnet-core/internal/docstore"
	"github.com/soundnetapp/soundnet-core/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var (
	ErrInvalidRating = errors.New("rating must be between 1.0 and 5.0 in half-star steps")
	ErrNotRated      = errors.New("no rating by this user")
)

// Aggregator submits ratings and serves aggregates over the document
// backend, keeping an optional local snapshot cache warm for offline
// reads
type Aggregator struct {
	store     docstore.Store
	snapshots *SnapshotCache
	logger    *zap.Logger
	submitted metric.Int64Counter
}

// NewAggregator creates a rating aggregator. The snapshot cache may be
// nil, in which case Cached always misses.
func NewAggregator(store docstore.Store, snapshots *SnapshotCache, logger *zap.Logger) *Aggregator {
	meter := otel.Meter("soundnet-core/rating")
	submitted, err := meter.Int64Counter("ratings_submitted_total",
		metric.WithDescription("Number of ratings submitted"))
	if err != nil {
		logger.Warn("failed to register ratings counter", zap.Error(err))
	}

	return &Aggregator{
		store:     store,
		snapshots: snapshots,
		logger:    logger,
		submitted: submitted,
	}
}

func ratingsCollection(subjectID string) string {
	return fmt.Sprintf("songRatings/%s/ratings", subjectID)
}

// Submit records the rater's rating for the song, replacing any rating
// the same rater gave before
func (a *Aggregator) Submit(ctx context.Context, subjectID, raterID string, value float64) error {
	if !domain.ValidRatingValue(value) {
		return fmt.Errorf("%w: got %v", ErrInvalidRating, value)
	}

	fields := map[string]any{
		"rating":    value,
		"userId":    raterID,
		"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	err := docstore.RetryWrite(ctx, func() error {
		return a.store.Put(ctx, ratingsCollection(subjectID), raterID, fields)
	})
	if err != nil {
		return fmt.Errorf("failed to submit rating: %w", err)
	}

	if a.submitted != nil {
		a.submitted.Add(ctx, 1)
	}
	a.logger.Debug("rating submitted",
		zap.String("subject_id", subjectID),
		zap.Float64("rating", value))
	return nil
}

// Get returns the rating the given rater holds for the song, or
// ErrNotRated
func (a *Aggregator) Get(ctx context.Context, subjectID, raterID string) (domain.RatingEvent, error) {
	doc, err := a.store.Get(ctx, ratingsCollection(subjectID), raterID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.RatingEvent{}, ErrNotRated
		}
		return domain.RatingEvent{}, fmt.Errorf("failed to get rating: %w", err)
	}
	return eventFromDoc(subjectID, doc), nil
}

// Average recomputes the aggregate for the song from its full rating
// set. A song with no ratings yields a zero-count aggregate.
func (a *Aggregator) Average(ctx context.Context, subjectID string) (domain.AggregateRating, error) {
	docs, err := a.store.List(ctx, ratingsCollection(subjectID))
	if err != nil {
		return domain.AggregateRating{}, fmt.Errorf("failed to list ratings: %w", err)
	}

	agg := aggregateFromDocs(subjectID, docs)
	a.cacheSnapshot(agg)
	return agg, nil
}

// Subscribe delivers the song's aggregate immediately and again after
// every rating change, until the returned stop function is called.
// Updates arrive on their own goroutine.
func (a *Aggregator) Subscribe(ctx context.Context, subjectID string, onUpdate func(domain.AggregateRating)) (func(), error) {
	sub, err := a.store.Watch(ctx, ratingsCollection(subjectID))
	if err != nil {
		return nil, fmt.Errorf("failed to watch ratings: %w", err)
	}

	go func() {
		for docs := range sub.Updates() {
			agg := aggregateFromDocs(subjectID, docs)
			a.cacheSnapshot(agg)
			onUpdate(agg)
		}
	}()

	return sub.Unsubscribe, nil
}

// Cached returns the last aggregate seen for the song from the local
// snapshot cache, for rendering while the backend is unreachable
func (a *Aggregator) Cached(subjectID string) (domain.AggregateRating, bool) {
	if a.snapshots == nil {
		return domain.AggregateRating{}, false
	}
	return a.snapshots.Load(subjectID)
}

func (a *Aggregator) cacheSnapshot(agg domain.AggregateRating) {
	if a.snapshots == nil {
		return
	}
	if err := a.snapshots.Save(agg); err != nil {
		a.logger.Warn("failed to cache rating snapshot",
			zap.String("subject_id", agg.SubjectID), zap.Error(err))
	}
}

func eventFromDoc(subjectID string, doc docstore.Document) domain.RatingEvent {
	return domain.RatingEvent{
		SubjectID: subjectID,
		RaterID:   doc.ID,
		Value:     doc.Float("rating"),
		CreatedAt: doc.Time("createdAt"),
	}
}

func aggregateFromDocs(subjectID string, docs []docstore.Document) domain.AggregateRating {
	events := make([]domain.RatingEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, eventFromDoc(subjectID, doc))
	}
	return domain.AggregateFromEvents(subjectID, events)
}
