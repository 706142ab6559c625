package domain

import "time"

// AppUser represents an application account in the users collection
type AppUser struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	DisplayName         string     `json:"display_name"`
	PasswordHash        string     `json:"-"`
	SpotifyRefreshToken string     `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLoginAt         *time.Time `json:"last_login_at"`
}

// HasLinkedSpotify reports whether a provider refresh token is stored
// on the account record
func (u AppUser) HasLinkedSpotify() bool {
	return u.SpotifyRefreshToken != ""
}

// SessionClaims represents the claims carried by an app-level session
// token
type SessionClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Exp    int64  `json:"exp"`
	Iat    int64  `json:"iat"`
}

// IsExpired checks if the session token is expired
func (sc SessionClaims) IsExpired() bool {
	return time.Now().Unix() > sc.Exp
}
