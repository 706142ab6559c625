// Package accounts manages the application's own user records: sign
// up, sign in, and the per-user Spotify link state. Records live in
// the "users" collection of the document backend.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/soundnetapp/soundnet-core/internal/docstore"
	"github.com/soundnetapp/soundnet-core/internal/domain"
	"github.com/soundnetapp/soundnet-core/internal/utils"
	"go.uber.org/zap"
)

const (
	usersCollection = "users"
	emailIndex      = "usersByEmail"
)

var (
	ErrEmailTaken         = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrWeakPassword       = errors.New("password must be at least 8 characters long and contain uppercase, lowercase, and number")
	ErrInvalidDisplayName = errors.New("display name must be between 2 and 64 characters")
)

// Service exposes account operations backed by the document store
type Service interface {
	SignUp(ctx context.Context, email, password, displayName string) (*domain.AppUser, error)
	SignIn(ctx context.Context, email, password string) (*domain.AppUser, error)
	Get(ctx context.Context, userID string) (*domain.AppUser, error)
	SaveSpotifyRefreshToken(ctx context.Context, userID, refreshToken string) error
	IssueSessionToken(user *domain.AppUser) (string, error)
	ValidateSessionToken(token string) (*domain.SessionClaims, error)
}

type accountService struct {
	store      docstore.Store
	sessions   *utils.SessionTokenManager
	bcryptCost int
	logger     *zap.Logger
}

// NewService creates a new account service
func NewService(store docstore.Store, sessions *utils.SessionTokenManager, bcryptCost int, logger *zap.Logger) Service {
	return &accountService{
		store:      store,
		sessions:   sessions,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// SignUp registers a new user
func (s *accountService) SignUp(ctx context.Context, email, password, displayName string) (*domain.AppUser, error) {
	if !utils.ValidateEmail(email) {
		return nil, ErrInvalidEmail
	}
	if !utils.ValidatePassword(password) {
		return nil, ErrWeakPassword
	}
	if !utils.ValidateDisplayName(displayName) {
		return nil, ErrInvalidDisplayName
	}

	email = utils.SanitizeEmail(email)

	_, err := s.store.Get(ctx, emailIndex, email)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to check user existence: %w", err)
	}

	passwordHash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.AppUser{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.Put(ctx, usersCollection, user.ID, userFields(user)); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if err := s.store.Put(ctx, emailIndex, email, map[string]any{"userId": user.ID}); err != nil {
		// Roll back the user doc so a later retry with the same email
		// does not leave an orphan behind.
		if delErr := s.store.Delete(ctx, usersCollection, user.ID); delErr != nil {
			s.logger.Warn("failed to roll back user after index write failure",
				zap.String("user_id", user.ID), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to index user email: %w", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// SignIn authenticates a user by email and password
func (s *accountService) SignIn(ctx context.Context, email, password string) (*domain.AppUser, error) {
	email = utils.SanitizeEmail(email)

	index, err := s.store.Get(ctx, emailIndex, email)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user, err := s.Get(ctx, index.String("userId"))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !utils.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	err = s.store.Merge(ctx, usersCollection, user.ID, map[string]any{
		"lastLoginAt": now.Format(time.RFC3339Nano),
	})
	if err != nil {
		// A stale login timestamp never blocks the sign-in.
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	return user, nil
}

// Get returns the user record or ErrUserNotFound
func (s *accountService) Get(ctx context.Context, userID string) (*domain.AppUser, error) {
	doc, err := s.store.Get(ctx, usersCollection, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return userFromDoc(doc), nil
}

// SaveSpotifyRefreshToken stores the linked account's refresh token on
// the user record, preserving the other profile fields
func (s *accountService) SaveSpotifyRefreshToken(ctx context.Context, userID, refreshToken string) error {
	err := s.store.Merge(ctx, usersCollection, userID, map[string]any{
		"spotifyRefreshToken": refreshToken,
	})
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// IssueSessionToken signs a session token for the user
func (s *accountService) IssueSessionToken(user *domain.AppUser) (string, error) {
	return s.sessions.Issue(user.ID, user.Email)
}

// ValidateSessionToken validates a session token and returns its claims
func (s *accountService) ValidateSessionToken(token string) (*domain.SessionClaims, error) {
	return s.sessions.Validate(token)
}

func userFields(user *domain.AppUser) map[string]any {
	fields := map[string]any{
		"email":               user.Email,
		"displayName":         user.DisplayName,
		"passwordHash":        user.PasswordHash,
		"spotifyRefreshToken": user.SpotifyRefreshToken,
		"createdAt":           user.CreatedAt.Format(time.RFC3339Nano),
	}
	if user.LastLoginAt != nil {
		fields["lastLoginAt"] = user.LastLoginAt.Format(time.RFC3339Nano)
	}
	return fields
}

func userFromDoc(doc docstore.Document) *domain.AppUser {
	user := &domain.AppUser{
		ID:                  doc.ID,
		Email:               doc.String("email"),
		DisplayName:         doc.String("displayName"),
		PasswordHash:        doc.String("passwordHash"),
		SpotifyRefreshToken: doc.String("spotifyRefreshToken"),
		CreatedAt:           doc.Time("createdAt"),
	}
	if lastLogin := doc.Time("lastLoginAt"); !lastLogin.IsZero() {
		user.LastLoginAt = &lastLogin
	}
	return user
}
