// Package app assembles the client core: the document backend, local
// storage, and the services layered on them.
package app

import (
	"fmt"

	"github.com/soundnetapp/soundnet-core/internal/accounts"
	"github.com/soundnetapp/soundnet-core/internal/auth"
	"github.com/soundnetapp/soundnet-core/internal/catalog"
	"github.com/soundnetapp/soundnet-core/internal/config"
	"github.com/soundnetapp/soundnet-core/internal/rating"
	"github.com/soundnetapp/soundnet-core/internal/review"
	"github.com/soundnetapp/soundnet-core/internal/session"
	"github.com/soundnetapp/soundnet-core/internal/tokenstore"
	"github.com/soundnetapp/soundnet-core/internal/utils"
)

// Core holds the wired services of a running client session
type Core struct {
	infra  Infrastructure
	config *config.Config

	Flow      *auth.Flow
	Tokens    tokenstore.Store
	Accounts  accounts.Service
	Linker    *session.Linker
	Ratings   *rating.Aggregator
	Reviews   *review.Service
	Catalog   *catalog.Client
	Snapshots *rating.SnapshotCache
	Health    *HealthChecker
}

// NewCore wires the services over the prepared infrastructure
func NewCore(infra Infrastructure, cfg *config.Config) (*Core, error) {
	logger := infra.Logger()

	tokens, err := tokenstore.NewSQLiteStore(infra.Local())
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	snapshots, err := rating.NewSnapshotCache(infra.Local())
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot cache: %w", err)
	}

	sessionTokens := utils.NewSessionTokenManager(cfg.Session.Secret, cfg.Session.Lifetime.Duration)
	accountSvc := accounts.NewService(infra.Backend(), sessionTokens, cfg.Session.BCryptCost, logger)

	flow := auth.NewFlow(cfg.Spotify, cfg.Auth.PendingTTL.Duration, logger)

	linker, err := session.NewLinker(accountSvc, flow, tokens, snapshots, infra.Local(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session linker: %w", err)
	}

	aggregator := rating.NewAggregator(infra.Backend(), snapshots, logger)
	reviews := review.NewService(infra.Backend(), aggregator, logger)
	catalogClient := catalog.NewClient(cfg.Spotify, tokens, flow, logger)

	return &Core{
		infra:     infra,
		config:    cfg,
		Flow:      flow,
		Tokens:    tokens,
		Accounts:  accountSvc,
		Linker:    linker,
		Ratings:   aggregator,
		Reviews:   reviews,
		Catalog:   catalogClient,
		Snapshots: snapshots,
		Health:    NewHealthChecker(infra),
	}, nil
}
