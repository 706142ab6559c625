// Package auth drives the PKCE authorization-code flow and the
// refresh-token flow against the Spotify accounts endpoints.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soundnetapp/soundnet-core/internal/config"
	"github.com/soundnetapp/soundnet-core/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const requestTimeout = 15 * time.Second

// AuthorizationRequest is the pending half of a two-phase
// authorization: the URL goes out to the browser, the verifier stays
// here until the redirect comes back.
type AuthorizationRequest struct {
	State     string
	URL       string
	verifier  string
	createdAt time.Time
}

// CallbackParams carries the query parameters of the provider
// redirect
type CallbackParams struct {
	Code      string
	State     string
	ErrorCode string
}

// Flow performs the authorization-code and refresh exchanges. Only
// one exchange of either kind may be in flight per session; a second
// concurrent call is rejected with ErrBusy rather than racing to
// persist a different pair.
type Flow struct {
	cfg    config.SpotifyConfig
	client *http.Client
	logger *zap.Logger

	pendingTTL time.Duration

	mu        sync.Mutex
	pending   map[string]*AuthorizationRequest
	exchanges int // in-flight exchange + refresh count, 0 or 1

	refreshes metric.Int64Counter
}

// NewFlow creates an authorization flow against the configured
// discovery document
func NewFlow(cfg config.SpotifyConfig, pendingTTL time.Duration, logger *zap.Logger) *Flow {
	f := &Flow{
		cfg:        cfg,
		client:     &http.Client{Timeout: requestTimeout},
		logger:     logger,
		pendingTTL: pendingTTL,
		pending:    make(map[string]*AuthorizationRequest),
	}

	meter := otel.Meter("soundnet-core/auth")
	refreshes, err := meter.Int64Counter("token_refreshes_total")
	if err != nil {
		logger.Warn("failed to register refresh counter", zap.Error(err))
	} else {
		f.refreshes = refreshes
	}

	return f
}

// BeginAuthorization generates a PKCE verifier/challenge pair and the
// provider authorization URL. The returned request must be passed to
// CompleteAuthorization when the redirect arrives; abandoned requests
// are released after the pending TTL.
func (f *Flow) BeginAuthorization() (*AuthorizationRequest, error) {
	verifier, err := newCodeVerifier()
	if err != nil {
		return nil, err
	}

	req := &AuthorizationRequest{
		State:     uuid.New().String(),
		verifier:  verifier,
		createdAt: time.Now(),
	}

	params := url.Values{}
	params.Set("client_id", f.cfg.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", f.cfg.RedirectURI())
	params.Set("state", req.State)
	params.Set("scope", f.cfg.Scopes)
	params.Set("code_challenge", codeChallenge(verifier))
	params.Set("code_challenge_method", "S256")
	params.Set("show_dialog", "true")
	req.URL = fmt.Sprintf("%s?%s", f.cfg.AuthURL, params.Encode())

	f.mu.Lock()
	f.pruneExpiredLocked()
	f.pending[req.State] = req
	f.mu.Unlock()

	return req, nil
}

// CancelAuthorization releases a pending request without completing
// it
func (f *Flow) CancelAuthorization(req *AuthorizationRequest) {
	f.mu.Lock()
	delete(f.pending, req.State)
	f.mu.Unlock()
}

// CompleteAuthorization exchanges the authorization code delivered by
// the provider redirect for a token pair, using the verifier held by
// the pending request. A given code is redeemable exactly once; a
// second attempt fails with ErrExchangeFailed.
func (f *Flow) CompleteAuthorization(ctx context.Context, req *AuthorizationRequest, params CallbackParams) (domain.TokenPair, error) {
	if params.ErrorCode != "" {
		f.CancelAuthorization(req)
		if params.ErrorCode == "access_denied" {
			return domain.TokenPair{}, ErrDenied
		}
		return domain.TokenPair{}, fmt.Errorf("provider returned %q: %w", params.ErrorCode, ErrExchangeFailed)
	}

	f.mu.Lock()
	f.pruneExpiredLocked()
	registered, ok := f.pending[req.State]
	if !ok || registered != req {
		f.mu.Unlock()
		return domain.TokenPair{}, ErrRequestExpired
	}
	if params.State != req.State {
		f.mu.Unlock()
		return domain.TokenPair{}, fmt.Errorf("state mismatch: %w", ErrExchangeFailed)
	}
	if params.Code == "" {
		f.mu.Unlock()
		return domain.TokenPair{}, fmt.Errorf("missing authorization code: %w", ErrExchangeFailed)
	}
	if f.exchanges > 0 {
		f.mu.Unlock()
		return domain.TokenPair{}, ErrBusy
	}
	f.exchanges++
	delete(f.pending, req.State)
	f.mu.Unlock()

	defer f.releaseExchange()

	// Public-client exchange: client_id and verifier travel in the
	// form body, no client secret involved.
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", params.Code)
	form.Set("redirect_uri", f.cfg.RedirectURI())
	form.Set("client_id", f.cfg.ClientID)
	form.Set("code_verifier", req.verifier)

	tokenResp, err := f.postTokenEndpoint(ctx, form, false)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%v: %w", err, ErrExchangeFailed)
	}
	if tokenResp.AccessToken == "" {
		return domain.TokenPair{}, fmt.Errorf("token endpoint returned no access token: %w", ErrExchangeFailed)
	}

	f.logger.Info("authorization code exchanged", zap.String("state", req.State))
	return tokenResp.pair(), nil
}

// Refresh exchanges the refresh token for a new access token. The
// provider does not always rotate the refresh token; a working
// refresh token is never discarded. ErrRefreshFailed means the caller
// must reauthorize, not retry.
func (f *Flow) Refresh(ctx context.Context, pair domain.TokenPair) (domain.TokenPair, error) {
	if !pair.HasRefreshToken() {
		return domain.TokenPair{}, fmt.Errorf("no refresh token held: %w", ErrRefreshFailed)
	}

	f.mu.Lock()
	if f.exchanges > 0 {
		f.mu.Unlock()
		return domain.TokenPair{}, ErrBusy
	}
	f.exchanges++
	f.mu.Unlock()

	defer f.releaseExchange()

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", pair.RefreshToken)
	if f.cfg.ClientSecret == "" {
		form.Set("client_id", f.cfg.ClientID)
	}

	tokenResp, err := f.postTokenEndpoint(ctx, form, f.cfg.ClientSecret != "")
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%v: %w", err, ErrRefreshFailed)
	}
	if tokenResp.AccessToken == "" {
		return domain.TokenPair{}, fmt.Errorf("token endpoint returned no access token: %w", ErrRefreshFailed)
	}

	fresh := tokenResp.pair()
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = pair.RefreshToken
	}

	if f.refreshes != nil {
		f.refreshes.Add(ctx, 1)
	}
	f.logger.Info("access token refreshed",
		zap.Bool("refresh_token_rotated", tokenResp.RefreshToken != ""),
	)

	return fresh, nil
}

func (f *Flow) releaseExchange() {
	f.mu.Lock()
	f.exchanges--
	f.mu.Unlock()
}

// pruneExpiredLocked drops pending requests older than the TTL so an
// abandoned consent screen does not leak its verifier indefinitely
func (f *Flow) pruneExpiredLocked() {
	if f.pendingTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-f.pendingTTL)
	for state, req := range f.pending {
		if req.createdAt.Before(cutoff) {
			delete(f.pending, state)
		}
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// pair converts the endpoint response into a TokenPair with
// best-effort expiry
func (t tokenResponse) pair() domain.TokenPair {
	pair := domain.TokenPair{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
	if t.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
		pair.ExpiresAt = &expiresAt
	}
	return pair
}

func (f *Flow) postTokenEndpoint(ctx context.Context, form url.Values, basicAuth bool) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basicAuth {
		req.SetBasicAuth(f.cfg.ClientID, f.cfg.ClientSecret)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	return &tokenResp, nil
}
