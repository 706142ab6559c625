// Package session ties the pieces of a signed-in session together:
// the application account, the locally persisted session token, and
// the linked Spotify credentials in the token store.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/soundnetapp/soundnet-core/internal/accounts"
	"github.com/soundnetapp/soundnet-core/internal/auth"
	"github.com/soundnetapp/soundnet-core/internal/domain"
	"github.com/soundnetapp/soundnet-core/internal/rating"
	"github.com/soundnetapp/soundnet-core/internal/tokenstore"
	"github.com/soundnetapp/soundnet-core/pkg/database"
	"go.uber.org/zap"
)

// ErrNoSession is returned by Resume when no prior session is stored
var ErrNoSession = errors.New("no stored session")

// Session is the signed-in state handed to the UI layer
type Session struct {
	User  *domain.AppUser
	Token string

	// NeedsSpotifyLink is set when the user must go through the
	// authorization flow before catalog features work, either because
	// no account was ever linked or because the stored refresh token
	// was revoked.
	NeedsSpotifyLink bool
}

// Linker drives sign-in, sign-out, and the Spotify account link
type Linker struct {
	accounts  accounts.Service
	flow      *auth.Flow
	tokens    tokenstore.Store
	snapshots *rating.SnapshotCache
	store     *sessionStore
	logger    *zap.Logger
}

// NewLinker creates a session linker. The snapshot cache may be nil.
func NewLinker(
	accountSvc accounts.Service,
	flow *auth.Flow,
	tokens tokenstore.Store,
	snapshots *rating.SnapshotCache,
	db *database.SQLite,
	logger *zap.Logger,
) (*Linker, error) {
	store, err := newSessionStore(db)
	if err != nil {
		return nil, err
	}

	return &Linker{
		accounts:  accountSvc,
		flow:      flow,
		tokens:    tokens,
		snapshots: snapshots,
		store:     store,
		logger:    logger,
	}, nil
}

// SignUp registers the account and opens a session. A fresh account
// never has a linked Spotify account.
func (l *Linker) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	user, err := l.accounts.SignUp(ctx, email, password, displayName)
	if err != nil {
		return nil, err
	}
	return l.openSession(user, true)
}

// SignIn authenticates the account and restores catalog access from
// the stored refresh token. A revoked refresh token does not fail the
// sign-in; the session comes back flagged for relinking and the token
// store is left untouched.
func (l *Linker) SignIn(ctx context.Context, email, password string) (*Session, error) {
	user, err := l.accounts.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	needsLink := true
	if user.HasLinkedSpotify() {
		needsLink = !l.restoreCatalogAccess(ctx, user)
	}

	return l.openSession(user, needsLink)
}

// Resume restores the session persisted from the last sign-in, or
// returns ErrNoSession
func (l *Linker) Resume(ctx context.Context) (*Session, error) {
	token, ok, err := l.store.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSession
	}

	claims, err := l.accounts.ValidateSessionToken(token)
	if err != nil {
		// An expired or tampered token is the same as no session.
		if clearErr := l.store.Clear(); clearErr != nil {
			l.logger.Warn("failed to clear stale session", zap.Error(clearErr))
		}
		return nil, ErrNoSession
	}

	user, err := l.accounts.Get(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session user: %w", err)
	}

	needsLink := true
	if _, held := l.tokens.Get(); held {
		needsLink = false
	} else if user.HasLinkedSpotify() {
		needsLink = !l.restoreCatalogAccess(ctx, user)
	}

	return &Session{User: user, Token: token, NeedsSpotifyLink: needsLink}, nil
}

// LinkSpotify stores the token pair obtained from the authorization
// flow and records its refresh token on the account
func (l *Linker) LinkSpotify(ctx context.Context, userID string, pair domain.TokenPair) error {
	if err := l.tokens.Set(ctx, pair); err != nil {
		return err
	}
	if pair.HasRefreshToken() {
		if err := l.accounts.SaveSpotifyRefreshToken(ctx, userID, pair.RefreshToken); err != nil {
			return err
		}
	}
	l.logger.Info("spotify account linked", zap.String("user_id", userID))
	return nil
}

// SignOut drops the local session, the held tokens, and the cached
// aggregates. The refresh token stored on the account stays, so the
// next sign-in relinks without a new authorization.
func (l *Linker) SignOut(ctx context.Context) error {
	var errs []error
	if err := l.tokens.Clear(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := l.store.Clear(); err != nil {
		errs = append(errs, err)
	}
	if l.snapshots != nil {
		if err := l.snapshots.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// restoreCatalogAccess refreshes the account's stored refresh token
// into a live pair. It reports whether catalog access was restored;
// the token store is only written on success.
func (l *Linker) restoreCatalogAccess(ctx context.Context, user *domain.AppUser) bool {
	pair, err := l.flow.Refresh(ctx, domain.TokenPair{RefreshToken: user.SpotifyRefreshToken})
	if err != nil {
		l.logger.Warn("stored refresh token rejected, relink required",
			zap.String("user_id", user.ID), zap.Error(err))
		return false
	}

	if err := l.tokens.Set(ctx, pair); err != nil {
		l.logger.Warn("failed to store refreshed token", zap.Error(err))
	}

	// The provider may rotate the refresh token on use; keep the
	// account's copy current.
	if pair.RefreshToken != user.SpotifyRefreshToken {
		if err := l.accounts.SaveSpotifyRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
			l.logger.Warn("failed to save rotated refresh token", zap.Error(err))
		}
	}
	return true
}

func (l *Linker) openSession(user *domain.AppUser, needsLink bool) (*Session, error) {
	token, err := l.accounts.IssueSessionToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}
	if err := l.store.Save(token, user.ID); err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, NeedsSpotifyLink: needsLink}, nil
}
