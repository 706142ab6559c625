package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/soundnetapp/soundnet-core/internal/domain"
)

// SessionTokenManager issues and validates the signed session tokens
// kept in device storage between launches
type SessionTokenManager struct {
	secret   []byte
	lifetime time.Duration
}

// NewSessionTokenManager creates a new session token manager
func NewSessionTokenManager(secret string, lifetime time.Duration) *SessionTokenManager {
	return &SessionTokenManager{
		secret:   []byte(secret),
		lifetime: lifetime,
	}
}

// Issue signs a session token for the user
func (m *SessionTokenManager) Issue(userID, email string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"email":   email,
		"exp":     now.Add(m.lifetime).Unix(),
		"iat":     now.Unix(),
		"jti":     uuid.New().String(),
	})

	tokenString, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return tokenString, nil
}

// Validate validates a session token and returns its claims
func (m *SessionTokenManager) Validate(tokenString string) (*domain.SessionClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid session token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid user_id in session token")
	}

	email, ok := claims["email"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid email in session token")
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid exp in session token")
	}

	iat, ok := claims["iat"].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid iat in session token")
	}

	sessionClaims := &domain.SessionClaims{
		UserID: userID,
		Email:  email,
		Exp:    int64(exp),
		Iat:    int64(iat),
	}

	if sessionClaims.IsExpired() {
		return nil, fmt.Errorf("session token is expired")
	}

	return sessionClaims, nil
}
