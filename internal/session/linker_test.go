package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/soundnetapp/soundnet-core/internal/accounts"
	"github.com/soundnetapp/soundnet-core/internal/auth"
	"github.com/soundnetapp/soundnet-core/internal/config"
	"github.com/soundnetapp/soundnet-core/internal/docstore"
	"github.com/soundnetapp/soundnet-core/internal/domain"
	"github.com/soundnetapp/soundnet-core/internal/tokenstore"
	"github.com/soundnetapp/soundnet-core/internal/utils"
	"github.com/soundnetapp/soundnet-core/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type linkerFixture struct {
	linker   *Linker
	accounts accounts.Service
	tokens   tokenstore.Store
	dbPath   string
}

// newFixture wires a linker against an in-memory backend and a token
// endpoint that accepts only "valid-refresh".
func newFixture(t *testing.T) *linkerFixture {
	t.Helper()

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostFormValue("refresh_token") != "valid-refresh" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "rotated-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(endpoint.Close)

	store := docstore.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	sessions := utils.NewSessionTokenManager("0123456789abcdef0123456789abcdef", time.Hour)
	accountSvc := accounts.NewService(store, sessions, 4, zap.NewNop())

	cfg := config.SpotifyConfig{
		ClientID:     "test-client",
		TokenURL:     endpoint.URL,
		RedirectHost: "127.0.0.1:8721",
	}
	flow := auth.NewFlow(cfg, time.Minute, zap.NewNop())

	dbPath := filepath.Join(t.TempDir(), "local.db")
	db, err := database.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tokens := tokenstore.NewMemoryStore()
	linker, err := NewLinker(accountSvc, flow, tokens, nil, db, zap.NewNop())
	require.NoError(t, err)

	return &linkerFixture{
		linker:   linker,
		accounts: accountSvc,
		tokens:   tokens,
		dbPath:   dbPath,
	}
}

func (f *linkerFixture) signUp(t *testing.T) *Session {
	t.Helper()
	session, err := f.linker.SignUp(context.Background(), "alice@example.com", "Sup3rSecret", "Alice")
	require.NoError(t, err)
	return session
}

func TestSignUpOpensUnlinkedSession(t *testing.T) {
	f := newFixture(t)

	session := f.signUp(t)
	assert.NotEmpty(t, session.Token)
	assert.True(t, session.NeedsSpotifyLink)

	_, held := f.tokens.Get()
	assert.False(t, held)
}

func TestSignInRestoresCatalogAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signUp(t).User

	require.NoError(t, f.accounts.SaveSpotifyRefreshToken(ctx, user.ID, "valid-refresh"))

	session, err := f.linker.SignIn(ctx, "alice@example.com", "Sup3rSecret")
	require.NoError(t, err)
	assert.False(t, session.NeedsSpotifyLink)

	pair, held := f.tokens.Get()
	require.True(t, held)
	assert.Equal(t, "fresh-access", pair.AccessToken)

	// The rotated refresh token was written back to the account.
	got, err := f.accounts.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", got.SpotifyRefreshToken)
}

func TestSignInWithRevokedRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signUp(t).User

	require.NoError(t, f.accounts.SaveSpotifyRefreshToken(ctx, user.ID, "revoked-refresh"))

	// The sign-in itself succeeds; only the link is flagged.
	session, err := f.linker.SignIn(ctx, "alice@example.com", "Sup3rSecret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, session.User.ID)
	assert.True(t, session.NeedsSpotifyLink)

	_, held := f.tokens.Get()
	assert.False(t, held)
}

func TestSignInWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.signUp(t)

	_, err := f.linker.SignIn(context.Background(), "alice@example.com", "WrongPass1")
	assert.ErrorIs(t, err, accounts.ErrInvalidCredentials)
}

func TestLinkSpotify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signUp(t).User

	pair := domain.TokenPair{
		AccessToken:  "linked-access",
		RefreshToken: "valid-refresh",
		TokenType:    "Bearer",
	}
	require.NoError(t, f.linker.LinkSpotify(ctx, user.ID, pair))

	held, ok := f.tokens.Get()
	require.True(t, ok)
	assert.Equal(t, "linked-access", held.AccessToken)

	got, err := f.accounts.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "valid-refresh", got.SpotifyRefreshToken)
}

func TestResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	opened := f.signUp(t)

	require.NoError(t, f.linker.LinkSpotify(ctx, opened.User.ID, domain.TokenPair{
		AccessToken:  "linked-access",
		RefreshToken: "valid-refresh",
	}))

	resumed, err := f.linker.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, opened.User.ID, resumed.User.ID)
	assert.Equal(t, opened.Token, resumed.Token)
	assert.False(t, resumed.NeedsSpotifyLink)
}

func TestResumeWithoutSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.linker.Resume(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestResumeRefreshesWhenTokensLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signUp(t).User

	require.NoError(t, f.accounts.SaveSpotifyRefreshToken(ctx, user.ID, "valid-refresh"))

	// The in-memory token store starts empty, as after a restart.
	resumed, err := f.linker.Resume(ctx)
	require.NoError(t, err)
	assert.False(t, resumed.NeedsSpotifyLink)

	pair, held := f.tokens.Get()
	require.True(t, held)
	assert.Equal(t, "fresh-access", pair.AccessToken)
}

func TestSignOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.signUp(t).User

	require.NoError(t, f.linker.LinkSpotify(ctx, user.ID, domain.TokenPair{
		AccessToken:  "linked-access",
		RefreshToken: "valid-refresh",
	}))
	require.NoError(t, f.linker.SignOut(ctx))

	_, held := f.tokens.Get()
	assert.False(t, held)

	_, err := f.linker.Resume(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	// The account keeps its refresh token for the next sign-in.
	got, err := f.accounts.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "valid-refresh", got.SpotifyRefreshToken)
}
