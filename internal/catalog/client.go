// Package catalog is the client for the music catalog's REST API. All
// requests ride on the access token held in the token store; a
// rejected token is refreshed through the authorization flow once and
// the request retried.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/soundnetapp/soundnet-core/internal/auth"
	"github.com/soundnetapp/soundnet-core/internal/config"
	"github.com/soundnetapp/soundnet-core/internal/domain"
	"github.com/soundnetapp/soundnet-core/internal/tokenstore"
	"go.uber.org/zap"
)

const defaultSearchLimit = 20

var (
	ErrNotLinked = errors.New("no linked account")
	ErrNotFound  = errors.New("not found in catalog")
)

// Track is a playable song in the catalog
type Track struct {
	ID         string
	Name       string
	Artists    []Artist
	AlbumName  string
	ImageURL   string
	PreviewURL string
	Duration   time.Duration
}

// Artist identifies a performing artist
type Artist struct {
	ID   string
	Name string
}

// Client calls the catalog API
type Client struct {
	cfg    config.SpotifyConfig
	tokens tokenstore.Store
	flow   *auth.Flow
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a catalog client over the held token store
func NewClient(cfg config.SpotifyConfig, tokens tokenstore.Store, flow *auth.Flow, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		flow:   flow,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// Track fetches a single track by its catalog ID
func (c *Client) Track(ctx context.Context, trackID string) (Track, error) {
	var resp apiTrack
	err := c.get(ctx, "/tracks/"+url.PathEscape(trackID), nil, &resp)
	if err != nil {
		return Track{}, err
	}
	return resp.track(), nil
}

// Search looks up tracks matching the query. A limit of 0 or less uses
// the default page size.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))

	var resp struct {
		Tracks struct {
			Items []apiTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := c.get(ctx, "/search", params, &resp); err != nil {
		return nil, err
	}
	return tracks(resp.Tracks.Items), nil
}

// ArtistTopTracks fetches the artist's top tracks for the market
func (c *Client) ArtistTopTracks(ctx context.Context, artistID, market string) ([]Track, error) {
	params := url.Values{}
	if market != "" {
		params.Set("market", market)
	}

	var resp struct {
		Tracks []apiTrack `json:"tracks"`
	}
	err := c.get(ctx, "/artists/"+url.PathEscape(artistID)+"/top-tracks", params, &resp)
	if err != nil {
		return nil, err
	}
	return tracks(resp.Tracks), nil
}

// get performs an authorized GET, refreshing the access token and
// retrying once when the API rejects it
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	pair, ok := c.tokens.Get()
	if !ok {
		return ErrNotLinked
	}

	// A token known to be stale is refreshed up front; expiry metadata
	// is advisory, the retry below is the authority.
	if pair.Expired() {
		if fresh, err := c.refresh(ctx, pair); err == nil {
			pair = fresh
		}
	}

	status, body, err := c.do(ctx, path, params, pair.AccessToken)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		pair, err = c.refresh(ctx, pair)
		if err != nil {
			return err
		}
		status, body, err = c.do(ctx, path, params, pair.AccessToken)
		if err != nil {
			return err
		}
	}

	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case status != http.StatusOK:
		return fmt.Errorf("catalog request failed with status %d: %s", status, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, params url.Values, accessToken string) (int, []byte, error) {
	endpoint := c.cfg.APIBaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read catalog response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) refresh(ctx context.Context, pair domain.TokenPair) (domain.TokenPair, error) {
	fresh, err := c.flow.Refresh(ctx, pair)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if err := c.tokens.Set(ctx, fresh); err != nil {
		c.logger.Warn("failed to persist refreshed token", zap.Error(err))
	}
	return fresh, nil
}

type apiTrack struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DurationMS int    `json:"duration_ms"`
	PreviewURL string `json:"preview_url"`
	Album      struct {
		Name   string `json:"name"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
	Artists []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artists"`
}

func (t apiTrack) track() Track {
	track := Track{
		ID:         t.ID,
		Name:       t.Name,
		AlbumName:  t.Album.Name,
		PreviewURL: t.PreviewURL,
		Duration:   time.Duration(t.DurationMS) * time.Millisecond,
	}
	if len(t.Album.Images) > 0 {
		track.ImageURL = t.Album.Images[0].URL
	}
	for _, artist := range t.Artists {
		track.Artists = append(track.Artists, Artist{ID: artist.ID, Name: artist.Name})
	}
	return track
}

func tracks(items []apiTrack) []Track {
	out := make([]Track, 0, len(items))
	for _, item := range items {
		out = append(out, item.track())
	}
	return out
}
