package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// Backend drivers for the document store.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Spotify  SpotifyConfig  `env:",prefix=SPOTIFY_"`
	Backend  BackendConfig  `env:",prefix=BACKEND_"`
	Postgres PostgresConfig `env:",prefix=POSTGRES_"`
	Redis    RedisConfig    `env:",prefix=REDIS_"`
	Session  SessionConfig  `env:",prefix=SESSION_"`
	Storage  StorageConfig  `env:",prefix=STORAGE_"`
	Auth     AuthConfig     `env:",prefix=AUTH_"`
	Env      string         `env:"ENV,default=development"`
}

// SpotifyConfig holds the OAuth discovery document and client
// credentials. The secret is only required for the refresh grant,
// which Spotify authenticates with HTTP Basic auth.
type SpotifyConfig struct {
	ClientID     string `env:"CLIENT_ID,required"`
	ClientSecret string `env:"CLIENT_SECRET"`
	AuthURL      string `env:"AUTH_URL,default=https://accounts.spotify.com/authorize"`
	TokenURL     string `env:"TOKEN_URL,default=https://accounts.spotify.com/api/token"`
	APIBaseURL   string `env:"API_BASE_URL,default=https://api.spotify.com/v1"`
	Scopes       string `env:"SCOPES,default=user-read-email user-read-private user-top-read"`
	RedirectHost string `env:"REDIRECT_HOST,default=127.0.0.1:8721"`
}

// BackendConfig selects the document backend the account, rating, and
// review collections live in
type BackendConfig struct {
	Driver       string   `env:"DRIVER,default=memory"`
	PollInterval Duration `env:"POLL_INTERVAL,default=2s"`
}

type PostgresConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=soundnet"`
	Password string `env:"PASSWORD,default=soundnet_password"`
	DBName   string `env:"DB,default=soundnet_db"`
	SSLMode  string `env:"SSLMODE,default=disable"`
}

type RedisConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=6379"`
	Password string `env:"PASSWORD,default="`
	DB       int    `env:"DB,default=0"`
}

// SessionConfig controls the app-level session token issued after an
// account sign-in
type SessionConfig struct {
	Secret     string   `env:"SECRET,required"`
	Lifetime   Duration `env:"LIFETIME,default=30d"`
	BCryptCost int      `env:"BCRYPT_COST,default=12"`
}

// StorageConfig locates the local durable store
type StorageConfig struct {
	Path string `env:"PATH,default=soundnet.db"`
}

// AuthConfig tunes the authorization flow
type AuthConfig struct {
	// PendingTTL bounds how long an unanswered authorization request
	// holds its PKCE verifier before being released.
	PendingTTL Duration `env:"PENDING_TTL,default=10m"`
}

// DSN returns PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// RedirectURI returns the loopback redirect the authorization flow
// registers with the provider
func (s SpotifyConfig) RedirectURI() string {
	return fmt.Sprintf("http://%s/callback", s.RedirectHost)
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	var config Config

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if len(config.Session.Secret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 characters long")
	}

	switch config.Backend.Driver {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return nil, fmt.Errorf("unknown BACKEND_DRIVER %q", config.Backend.Driver)
	}

	return &config, nil
}

// LoadWithDefaults loads configuration with default context
func LoadWithDefaults() (*Config, error) {
	return Load(context.Background())
}
