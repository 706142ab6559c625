package tokenstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/soundnetapp/soundnet-core/internal/domain"
	"github.com/soundnetapp/soundnet-core/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*database.SQLite, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tokens.db")
	db, err := database.NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestSQLiteStoreEmpty(t *testing.T) {
	db, _ := openTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	pair, ok := store.Get()
	assert.False(t, ok)
	assert.True(t, pair.IsZero())
}

func TestSQLiteStoreSetGet(t *testing.T) {
	db, _ := openTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	pair := domain.TokenPair{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		ExpiresAt:    &expiry,
	}

	require.NoError(t, store.Set(context.Background(), pair))

	got, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, "refresh-1", got.RefreshToken)
	assert.Equal(t, "Bearer", got.TokenType)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	db, path := openTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	pair := domain.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"}
	require.NoError(t, store.Set(context.Background(), pair))
	require.NoError(t, db.Close())

	reopened, err := database.NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	store2, err := NewSQLiteStore(reopened)
	require.NoError(t, err)

	got, ok := store2.Get()
	require.True(t, ok)
	assert.Equal(t, "access-2", got.AccessToken)
	assert.Equal(t, "refresh-2", got.RefreshToken)
}

func TestSQLiteStoreOverwrite(t *testing.T) {
	db, _ := openTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, domain.TokenPair{AccessToken: "old", RefreshToken: "old-refresh"}))
	require.NoError(t, store.Set(ctx, domain.TokenPair{AccessToken: "new", RefreshToken: "new-refresh"}))

	got, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "new", got.AccessToken)
	assert.Equal(t, "new-refresh", got.RefreshToken)
}

func TestSQLiteStoreClear(t *testing.T) {
	db, _ := openTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, domain.TokenPair{AccessToken: "access-3"}))
	require.NoError(t, store.Clear(ctx))

	_, ok := store.Get()
	assert.False(t, ok)

	// Clearing an already empty store is fine.
	require.NoError(t, store.Clear(ctx))
}

func TestSQLiteStoreDegradedDurability(t *testing.T) {
	db, _ := openTestDB(t)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)

	// Closing the database makes every subsequent write fail.
	require.NoError(t, db.Close())

	pair := domain.TokenPair{AccessToken: "access-4", RefreshToken: "refresh-4"}
	err = store.Set(context.Background(), pair)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)

	// The driver failure stays in the chain alongside the sentinel.
	assert.Contains(t, err.Error(), "database is closed")

	// Memory was updated first, so the session keeps the fresh pair.
	got, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "access-4", got.AccessToken)
	assert.Equal(t, "refresh-4", got.RefreshToken)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok := store.Get()
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, domain.TokenPair{AccessToken: "a", RefreshToken: "r"}))
	got, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "a", got.AccessToken)

	require.NoError(t, store.Clear(ctx))
	_, ok = store.Get()
	assert.False(t, ok)
}
