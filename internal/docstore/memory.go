package docstore

import (
	"context"
	"sync"
)

// memoryStore implements Store in process memory. It backs unit tests
// and offline mode.
type memoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	watchers    map[string][]*Subscription
	closed      bool
}

// NewMemoryStore creates an in-memory document store
func NewMemoryStore() Store {
	return &memoryStore{
		collections: make(map[string]map[string]map[string]any),
		watchers:    make(map[string][]*Subscription),
	}
}

// Put creates or replaces a document and notifies watchers
func (m *memoryStore) Put(_ context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[collection]
	if !ok {
		col = make(map[string]map[string]any)
		m.collections[collection] = col
	}
	col[id] = cloneFields(fields)
	m.notifyLocked(collection)
	return nil
}

// Merge upserts the given fields, keeping existing ones
func (m *memoryStore) Merge(_ context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[collection]
	if !ok {
		col = make(map[string]map[string]any)
		m.collections[collection] = col
	}
	doc, ok := col[id]
	if !ok {
		doc = make(map[string]any, len(fields))
		col[id] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
	m.notifyLocked(collection)
	return nil
}

// Get returns a copy of the document or ErrNotFound
func (m *memoryStore) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Fields: cloneFields(fields)}, nil
}

// Delete removes a document; missing documents are ignored
func (m *memoryStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[collection]
	if !ok {
		return nil
	}
	if _, ok := col[id]; !ok {
		return nil
	}
	delete(col, id)
	m.notifyLocked(collection)
	return nil
}

// List returns the current document set of the collection
func (m *memoryStore) List(_ context.Context, collection string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(collection), nil
}

// Watch registers a subscription; the current snapshot is queued
// before Watch returns
func (m *memoryStore) Watch(_ context.Context, collection string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sub *Subscription
	sub = newSubscription(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		watchers := m.watchers[collection]
		for i, w := range watchers {
			if w == sub {
				m.watchers[collection] = append(watchers[:i], watchers[i+1:]...)
				close(sub.updates)
				break
			}
		}
	})

	m.watchers[collection] = append(m.watchers[collection], sub)
	sub.push(m.snapshotLocked(collection))
	return sub, nil
}

func (m *memoryStore) Ping(_ context.Context) error {
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for collection, watchers := range m.watchers {
		for _, w := range watchers {
			close(w.updates)
		}
		delete(m.watchers, collection)
	}
	return nil
}

func (m *memoryStore) notifyLocked(collection string) {
	watchers := m.watchers[collection]
	if len(watchers) == 0 {
		return
	}
	snapshot := m.snapshotLocked(collection)
	for _, w := range watchers {
		w.push(snapshot)
	}
}

func (m *memoryStore) snapshotLocked(collection string) []Document {
	col := m.collections[collection]
	docs := make([]Document, 0, len(col))
	for id, fields := range col {
		docs = append(docs, Document{ID: id, Fields: cloneFields(fields)})
	}
	return docs
}

func cloneFields(fields map[string]any) map[string]any {
	clone := make(map[string]any, len(fields))
	for k, v := range fields {
		clone[k] = v
	}
	return clone
}
