package acceptance

import (
	"context"
	"path/filepath"
	"time"

	"github.com/soundnetapp/soundnet-core/internal/accounts"
	"github.com/soundnetapp/soundnet-core/internal/domain"
	"github.com/soundnetapp/soundnet-core/internal/rating"
	"github.com/soundnetapp/soundnet-core/internal/review"
	"github.com/soundnetapp/soundnet-core/internal/utils"
	"github.com/soundnetapp/soundnet-core/pkg/database"
	"go.uber.org/zap"
)

const testSessionSecret = "test-secret-key-that-is-at-least-32-characters-long"

func (s *Suite) newAccountService() accounts.Service {
	sessions := utils.NewSessionTokenManager(testSessionSecret, time.Hour)
	return accounts.NewService(s.PostgresStore, sessions, 4, zap.NewNop())
}

func (s *Suite) TestAccountLifecycle() {
	ctx := context.Background()
	svc := s.newAccountService()

	user, err := svc.SignUp(ctx, "alice@example.com", "Sup3rSecret", "Alice")
	s.Require().NoError(err)

	_, err = svc.SignUp(ctx, "alice@example.com", "An0therPass", "Alice2")
	s.ErrorIs(err, accounts.ErrEmailTaken)

	signedIn, err := svc.SignIn(ctx, "alice@example.com", "Sup3rSecret")
	s.Require().NoError(err)
	s.Equal(user.ID, signedIn.ID)

	_, err = svc.SignIn(ctx, "alice@example.com", "WrongPass1")
	s.ErrorIs(err, accounts.ErrInvalidCredentials)

	s.Require().NoError(svc.SaveSpotifyRefreshToken(ctx, user.ID, "rt-1"))
	got, err := svc.Get(ctx, user.ID)
	s.Require().NoError(err)
	s.Equal("rt-1", got.SpotifyRefreshToken)
	s.Equal("Alice", got.DisplayName)

	token, err := svc.IssueSessionToken(got)
	s.Require().NoError(err)
	claims, err := svc.ValidateSessionToken(token)
	s.Require().NoError(err)
	s.Equal(user.ID, claims.UserID)
}

func (s *Suite) TestRatingAggregationAcrossBackends() {
	ctx := context.Background()

	for name, store := range s.stores() {
		s.Run(name, func() {
			agg := rating.NewAggregator(store, nil, zap.NewNop())

			s.Require().NoError(agg.Submit(ctx, "song-1", "user-1", 4.0))
			s.Require().NoError(agg.Submit(ctx, "song-1", "user-2", 5.0))
			s.Require().NoError(agg.Submit(ctx, "song-1", "user-1", 3.0))

			avg, err := agg.Average(ctx, "song-1")
			s.Require().NoError(err)
			s.Equal(2, avg.Count)
			s.InDelta(4.0, avg.Average(), 1e-9)
			s.Equal(1, avg.Histogram["3.0"])
			s.Equal(1, avg.Histogram["5.0"])
			s.Equal(0, avg.Histogram["4.0"])
		})
	}
}

func (s *Suite) TestReviewFlowEndToEnd() {
	ctx := context.Background()

	db, err := openLocalDB(s)
	s.Require().NoError(err)
	defer db.Close()

	snapshots, err := rating.NewSnapshotCache(db)
	s.Require().NoError(err)

	agg := rating.NewAggregator(s.PostgresStore, snapshots, s.Logger)
	reviews := review.NewService(s.PostgresStore, agg, s.Logger)

	_, err = reviews.Upsert(ctx, "song-1", "user-1", 4.5, "strong opener")
	s.Require().NoError(err)
	_, err = reviews.Upsert(ctx, "song-1", "user-2", 2.5, "not for me")
	s.Require().NoError(err)

	listed, err := reviews.List(ctx, "song-1")
	s.Require().NoError(err)
	s.Len(listed, 2)

	avg, err := agg.Average(ctx, "song-1")
	s.Require().NoError(err)
	s.Equal(2, avg.Count)
	s.InDelta(3.5, avg.Average(), 1e-9)

	// The aggregate landed in the local snapshot cache.
	cached, ok := agg.Cached("song-1")
	s.Require().True(ok)
	s.Equal(2, cached.Count)

	// Removing a review keeps its rating in the aggregate.
	s.Require().NoError(reviews.Remove(ctx, "song-1", "user-2"))
	listed, err = reviews.List(ctx, "song-1")
	s.Require().NoError(err)
	s.Len(listed, 1)

	avg, err = agg.Average(ctx, "song-1")
	s.Require().NoError(err)
	s.Equal(2, avg.Count)
}

func (s *Suite) TestLiveAggregateSubscription() {
	ctx := context.Background()

	for name, store := range s.stores() {
		s.Run(name, func() {
			agg := rating.NewAggregator(store, nil, zap.NewNop())

			updates := make(chan domain.AggregateRating, 16)
			stop, err := agg.Subscribe(ctx, "song-live", func(a domain.AggregateRating) {
				updates <- a
			})
			s.Require().NoError(err)
			defer stop()

			initial := s.waitForAggregate(updates, 0)
			s.Zero(initial.Count)

			s.Require().NoError(agg.Submit(ctx, "song-live", "user-1", 5.0))
			grown := s.waitForAggregate(updates, 1)
			s.InDelta(5.0, grown.Average(), 1e-9)
		})
	}
}

func (s *Suite) waitForAggregate(updates <-chan domain.AggregateRating, wantCount int) domain.AggregateRating {
	s.T().Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case a := <-updates:
			if a.Count == wantCount {
				return a
			}
		case <-deadline:
			s.T().Fatalf("timed out waiting for aggregate with %d ratings", wantCount)
			return domain.AggregateRating{}
		}
	}
}

func openLocalDB(s *Suite) (*database.SQLite, error) {
	path := filepath.Join(s.T().TempDir(), "local.db")
	return database.NewSQLite(path)
}
