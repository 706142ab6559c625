package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/soundnetapp/soundnet-core/internal/config"
	"github.com/soundnetapp/soundnet-core/internal/docstore"
	"github.com/soundnetapp/soundnet-core/pkg/database"
	"github.com/soundnetapp/soundnet-core/pkg/observability"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

type Infrastructure interface {
	Backend() docstore.Store
	Local() *database.SQLite
	Logger() *zap.Logger
	MetricsHandler() http.Handler
	MeterProvider() *metric.MeterProvider

	Shutdown(ctx context.Context) error
}

type infrastructure struct {
	backend        docstore.Store
	local          *database.SQLite
	logger         *zap.Logger
	metricsHandler http.Handler
	meterProvider  *metric.MeterProvider
}

var _ Infrastructure = &infrastructure{}

func NewInfrastructure(ctx context.Context, cfg config.Config) (*infrastructure, error) {
	i := &infrastructure{}

	logger, err := observability.InitLogger(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	i.logger = logger

	local, err := database.NewSQLite(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local storage: %w", err)
	}
	i.local = local

	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		_ = i.local.Close()
		return nil, err
	}
	i.backend = backend

	meterProvider, metricsHandler, err := observability.InitTelemetry()
	if err != nil {
		_ = i.backend.Close()
		_ = i.local.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	i.meterProvider = meterProvider
	i.metricsHandler = metricsHandler

	return i, nil
}

func newBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (docstore.Store, error) {
	switch cfg.Backend.Driver {
	case config.BackendMemory:
		return docstore.NewMemoryStore(), nil

	case config.BackendRedis:
		redis, err := database.NewRedis(ctx, cfg.Redis.Address(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return docstore.NewRedisStore(redis, logger), nil

	case config.BackendPostgres:
		postgres, err := database.NewPostgres(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		store, err := docstore.NewPostgresStore(ctx, postgres, logger, cfg.Backend.PollInterval.Duration)
		if err != nil {
			_ = postgres.Close()
			return nil, fmt.Errorf("failed to initialize document store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown backend driver: %s", cfg.Backend.Driver)
	}
}

func (i *infrastructure) Backend() docstore.Store {
	return i.backend
}

func (i *infrastructure) Local() *database.SQLite {
	return i.local
}

func (i *infrastructure) Logger() *zap.Logger {
	return i.logger
}

func (i *infrastructure) MetricsHandler() http.Handler {
	return i.metricsHandler
}

func (i *infrastructure) MeterProvider() *metric.MeterProvider {
	return i.meterProvider
}

func (i *infrastructure) Shutdown(ctx context.Context) error {
	errs := make(chan error, 4)

	go func() { errs <- i.backend.Close() }()
	go func() { errs <- i.local.Close() }()
	go func() { errs <- i.logger.Sync() }()
	go func() { errs <- observability.Shutdown(ctx, i.meterProvider, i.logger) }()

	return errors.Join(<-errs, <-errs, <-errs, <-errs)
}
