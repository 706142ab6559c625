package auth

import "errors"

// Authorization flow errors. These are returned as typed results for
// the caller to branch on, never logged-and-swallowed: a RefreshFailed
// means "reauthorization required", an ExchangeFailed may be retried
// with a fresh authorization.
var (
	// ErrDenied is returned when the user cancelled the consent screen
	ErrDenied = errors.New("authorization denied by user")

	// ErrExchangeFailed is returned when the token endpoint yields no
	// access token (network error, invalid or already-redeemed code)
	ErrExchangeFailed = errors.New("authorization code exchange failed")

	// ErrRefreshFailed is returned when the provider rejects the
	// refresh token; callers must treat it as reauthorization
	// required, not retry it
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrBusy is returned when another exchange or refresh is already
	// in flight for this session
	ErrBusy = errors.New("token exchange already in flight")

	// ErrRequestExpired is returned when the pending authorization
	// request was abandoned longer than the configured TTL and its
	// verifier has been released
	ErrRequestExpired = errors.New("authorization request expired")
)
