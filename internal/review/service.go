// Package review stores written song reviews. A review always carries
// a rating; writing one routes the rating through the aggregator so
// the song's average reflects it. Each review is mirrored under the
// author's profile for the "my reviews" view.
package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soundnetapp/soundnet-core/internal/docstore"
	"github.com/soundnetapp/soundnet-core/internal/domain"
	"github.com/soundnetapp/soundnet-core/internal/rating"
	"go.uber.org/zap"
)

const maxReviewLength = 2000

var (
	ErrEmptyReview   = errors.New("review text must not be empty")
	ErrReviewTooLong = errors.New("review text exceeds the maximum length")
	ErrNotFound      = errors.New("review not found")
)

// Service manages song reviews on top of the document backend
type Service struct {
	store      docstore.Store
	aggregator *rating.Aggregator
	logger     *zap.Logger
}

// NewService creates a review service
func NewService(store docstore.Store, aggregator *rating.Aggregator, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		aggregator: aggregator,
		logger:     logger,
	}
}

func reviewsCollection(subjectID string) string {
	return fmt.Sprintf("songReviews/%s/reviews", subjectID)
}

func authorCollection(authorID string) string {
	return fmt.Sprintf("users/%s/reviews", authorID)
}

// Upsert writes the author's review of the song, replacing any earlier
// one, and submits the attached rating to the aggregator
func (s *Service) Upsert(ctx context.Context, subjectID, authorID string, value float64, text string) (domain.Review, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Review{}, ErrEmptyReview
	}
	if len(text) > maxReviewLength {
		return domain.Review{}, ErrReviewTooLong
	}

	// The rating is validated and recorded first; an invalid rating
	// must not leave a review behind.
	if err := s.aggregator.Submit(ctx, subjectID, authorID, value); err != nil {
		return domain.Review{}, err
	}

	rev := domain.Review{
		SubjectID: subjectID,
		AuthorID:  authorID,
		Rating:    value,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	fields := map[string]any{
		"userId":    authorID,
		"songId":    subjectID,
		"rating":    value,
		"text":      text,
		"createdAt": rev.CreatedAt.Format(time.RFC3339Nano),
	}
	err := docstore.RetryWrite(ctx, func() error {
		return s.store.Put(ctx, reviewsCollection(subjectID), authorID, fields)
	})
	if err != nil {
		return domain.Review{}, fmt.Errorf("failed to save review: %w", err)
	}
	err = docstore.RetryWrite(ctx, func() error {
		return s.store.Put(ctx, authorCollection(authorID), subjectID, fields)
	})
	if err != nil {
		return domain.Review{}, fmt.Errorf("failed to mirror review: %w", err)
	}

	s.logger.Debug("review saved",
		zap.String("subject_id", subjectID),
		zap.String("author_id", authorID))
	return rev, nil
}

// Get returns the author's review of the song, or ErrNotFound
func (s *Service) Get(ctx context.Context, subjectID, authorID string) (domain.Review, error) {
	doc, err := s.store.Get(ctx, reviewsCollection(subjectID), authorID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.Review{}, ErrNotFound
		}
		return domain.Review{}, fmt.Errorf("failed to get review: %w", err)
	}
	return reviewFromDoc(doc), nil
}

// Remove deletes the author's review of the song from both the song's
// review set and the author's mirror. The rating the review carried
// stays in place.
func (s *Service) Remove(ctx context.Context, subjectID, authorID string) error {
	err := docstore.RetryWrite(ctx, func() error {
		return s.store.Delete(ctx, reviewsCollection(subjectID), authorID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete review: %w", err)
	}
	err = docstore.RetryWrite(ctx, func() error {
		return s.store.Delete(ctx, authorCollection(authorID), subjectID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete mirrored review: %w", err)
	}
	return nil
}

// List returns the song's reviews, newest first
func (s *Service) List(ctx context.Context, subjectID string) ([]domain.Review, error) {
	docs, err := s.store.List(ctx, reviewsCollection(subjectID))
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	return sortedReviews(docs), nil
}

// ListRecentByAuthor returns up to limit of the author's reviews,
// newest first. A limit of 0 or less returns them all.
func (s *Service) ListRecentByAuthor(ctx context.Context, authorID string, limit int) ([]domain.Review, error) {
	docs, err := s.store.List(ctx, authorCollection(authorID))
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews by author: %w", err)
	}

	reviews := sortedReviews(docs)
	if limit > 0 && len(reviews) > limit {
		reviews = reviews[:limit]
	}
	return reviews, nil
}

// Subscribe delivers the song's review set immediately and again after
// every change, newest first, until the returned stop function is
// called
func (s *Service) Subscribe(ctx context.Context, subjectID string, onUpdate func([]domain.Review)) (func(), error) {
	sub, err := s.store.Watch(ctx, reviewsCollection(subjectID))
	if err != nil {
		return nil, fmt.Errorf("failed to watch reviews: %w", err)
	}

	go func() {
		for docs := range sub.Updates() {
			onUpdate(sortedReviews(docs))
		}
	}()

	return sub.Unsubscribe, nil
}

func reviewFromDoc(doc docstore.Document) domain.Review {
	return domain.Review{
		SubjectID: doc.String("songId"),
		AuthorID:  doc.String("userId"),
		Rating:    doc.Float("rating"),
		Text:      doc.String("text"),
		CreatedAt: doc.Time("createdAt"),
	}
}

func sortedReviews(docs []docstore.Document) []domain.Review {
	reviews := make([]domain.Review, 0, len(docs))
	for _, doc := range docs {
		reviews = append(reviews, reviewFromDoc(doc))
	}
	sort.Slice(reviews, func(i, j int) bool {
		return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
	})
	return reviews
}
