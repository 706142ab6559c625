package acceptance

import (
	"context"
)

func (s *Suite) TestPutGetRoundTrip() {
	ctx := context.Background()

	for name, store := range s.stores() {
		err := store.Put(ctx, "users", "u1", map[string]any{
			"email":       "alice@example.com",
			"displayName": "Alice",
		})
		s.Require().NoError(err, name)

		doc, err := store.Get(ctx, "users", "u1")
		s.Require().NoError(err, name)
		s.Equal("alice@example.com", doc.String("email"), name)
		s.Equal("Alice", doc.String("displayName"), name)
	}
}

func (s *Suite) TestMergePreservesExistingFields() {
	ctx := context.Background()

	for name, store := range s.stores() {
		err := store.Put(ctx, "users", "u1", map[string]any{
			"email":       "alice@example.com",
			"displayName": "Alice",
		})
		s.Require().NoError(err, name)

		err = store.Merge(ctx, "users", "u1", map[string]any{
			"spotifyRefreshToken": "rt-1",
		})
		s.Require().NoError(err, name)

		doc, err := store.Get(ctx, "users", "u1")
		s.Require().NoError(err, name)
		s.Equal("alice@example.com", doc.String("email"), name)
		s.Equal("rt-1", doc.String("spotifyRefreshToken"), name)
	}
}

func (s *Suite) TestDeleteRemovesDocument() {
	ctx := context.Background()

	for name, store := range s.stores() {
		s.Require().NoError(store.Put(ctx, "users", "u1", map[string]any{"email": "a@b.c"}), name)
		s.Require().NoError(store.Delete(ctx, "users", "u1"), name)

		_, err := store.Get(ctx, "users", "u1")
		s.Error(err, name)

		// Deleting again stays silent.
		s.NoError(store.Delete(ctx, "users", "u1"), name)
	}
}

func (s *Suite) TestListScopedToCollection() {
	ctx := context.Background()

	for name, store := range s.stores() {
		s.Require().NoError(store.Put(ctx, "songRatings/s1/ratings", "u1", map[string]any{"rating": 4.0}), name)
		s.Require().NoError(store.Put(ctx, "songRatings/s1/ratings", "u2", map[string]any{"rating": 2.5}), name)
		s.Require().NoError(store.Put(ctx, "songRatings/s2/ratings", "u1", map[string]any{"rating": 5.0}), name)

		docs, err := store.List(ctx, "songRatings/s1/ratings")
		s.Require().NoError(err, name)
		s.Len(docs, 2, name)
	}
}

func (s *Suite) TestWatchDeliversInitialAndChangedSnapshots() {
	ctx := context.Background()

	for name, store := range s.stores() {
		s.Run(name, func() {
			s.Require().NoError(store.Put(ctx, "songReviews/s1/reviews", "u1", map[string]any{
				"text":   "first",
				"rating": 4.0,
			}))

			sub, err := store.Watch(ctx, "songReviews/s1/reviews")
			s.Require().NoError(err)
			defer sub.Unsubscribe()

			initial := receiveSnapshot(s, sub)
			s.Len(initial, 1)

			s.Require().NoError(store.Put(ctx, "songReviews/s1/reviews", "u2", map[string]any{
				"text":   "second",
				"rating": 3.0,
			}))
			waitForCount(s, sub, 2)

			s.Require().NoError(store.Delete(ctx, "songReviews/s1/reviews", "u1"))
			waitForCount(s, sub, 1)
		})
	}
}

func (s *Suite) TestPing() {
	ctx := context.Background()

	for name, store := range s.stores() {
		s.NoError(store.Ping(ctx), name)
	}
}
