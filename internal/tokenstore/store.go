// Package tokenstore holds the current Spotify token pair. The store
// is the single source of truth consulted by every API call; callers
// read it immediately before each request so a concurrent refresh is
// picked up by the next call.
package tokenstore

import (
	"context"
	"errors"
	"sync"

	"github.com/soundnetapp/soundnet-core/internal/domain"
)

// ErrPersistence is returned when the durable write failed. The
// in-memory pair is still updated so the running session keeps
// working; callers may retry or warn the user.
var ErrPersistence = errors.New("token persistence failed")

// Store defines the token pair holder
type Store interface {
	// Get returns the last known pair without I/O; ok is false when
	// no pair has been stored
	Get() (pair domain.TokenPair, ok bool)

	// Set atomically replaces the pair in memory and persists it
	Set(ctx context.Context, pair domain.TokenPair) error

	// Clear removes the pair from memory and durable storage
	Clear(ctx context.Context) error
}

// memoryStore implements Store without durability, for tests and
// ephemeral sessions
type memoryStore struct {
	mu   sync.RWMutex
	pair domain.TokenPair
}

// NewMemoryStore creates a non-durable token store
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (m *memoryStore) Get() (domain.TokenPair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair, !m.pair.IsZero()
}

func (m *memoryStore) Set(_ context.Context, pair domain.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = pair
	return nil
}

func (m *memoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pair = domain.TokenPair{}
	return nil
}
