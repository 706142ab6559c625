// Package docstore defines the contract with the document backend:
// per-document upsert by key within slash-joined collection paths, and
// a live watch primitive keyed by collection. The mobile clients speak
// this shape to Firestore; the adapters here back it with memory,
// Redis, or PostgreSQL.
package docstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("document not found")

// snapshotBuffer bounds how many pending snapshots a subscription
// holds before older ones are coalesced away.
const snapshotBuffer = 16

// Document is a single keyed record within a collection
type Document struct {
	ID     string
	Fields map[string]any
}

// String returns the named field as a string, "" when absent
func (d Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Float returns the named field as a float64, 0 when absent.
// JSON decoding yields float64 for all numbers.
func (d Document) Float(key string) float64 {
	switch v := d.Fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Time parses the named field as an RFC3339 timestamp, zero time on
// absence or parse failure
func (d Document) Time(key string) time.Time {
	s, ok := d.Fields[key].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Store defines the operations every document backend adapter provides
type Store interface {
	// Put creates or wholesale-replaces the document
	Put(ctx context.Context, collection, id string, fields map[string]any) error

	// Merge upserts the given fields, preserving fields absent from
	// the write (setDoc with merge in the original client)
	Merge(ctx context.Context, collection, id string, fields map[string]any) error

	// Get returns the document or ErrNotFound
	Get(ctx context.Context, collection, id string) (Document, error)

	// Delete removes the document; deleting a missing document is not
	// an error
	Delete(ctx context.Context, collection, id string) error

	// List returns the current document set of the collection
	List(ctx context.Context, collection string) ([]Document, error)

	// Watch emits the full current document set immediately, then
	// again on every change to the collection
	Watch(ctx context.Context, collection string) (*Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// Subscription delivers collection snapshots until unsubscribed.
// After Unsubscribe returns, at most one in-flight snapshot may still
// be delivered before the channel closes.
type Subscription struct {
	updates chan []Document
	stop    func()
	once    sync.Once
}

func newSubscription(stop func()) *Subscription {
	return &Subscription{
		updates: make(chan []Document, snapshotBuffer),
		stop:    stop,
	}
}

// Updates returns the snapshot channel. It is closed on Unsubscribe.
func (s *Subscription) Updates() <-chan []Document {
	return s.updates
}

// Unsubscribe releases the subscription; no further snapshots are
// queued after it returns
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.stop)
}

// push queues a snapshot, discarding the oldest pending one when the
// consumer has fallen behind. Only the current state matters to
// subscribers.
func (s *Subscription) push(docs []Document) {
	for {
		select {
		case s.updates <- docs:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}
