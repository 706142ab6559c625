package domain

import "time"

// TokenPair represents the Spotify access/refresh token pair held for
// the current session
type TokenPair struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// IsZero reports whether no access token has been acquired yet.
// Absence of a token is a distinct state from an expired one.
func (t TokenPair) IsZero() bool {
	return t.AccessToken == ""
}

// HasRefreshToken reports whether the pair can be refreshed without
// re-running the authorization flow
func (t TokenPair) HasRefreshToken() bool {
	return t.RefreshToken != ""
}

// Expired reports whether the recorded expiry has passed. Expiry is
// best-effort: when the provider response carried no expires_in the
// pair never reports expired and refresh happens reactively on 401.
func (t TokenPair) Expired() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*t.ExpiresAt)
}
