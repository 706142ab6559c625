package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/soundnetapp/soundnet-core/pkg/database"
	"go.uber.org/zap"
)

// redisStore implements Store on Redis: one hash per collection with
// JSON-encoded documents, and a pub/sub channel per collection for
// live watch delivery.
type redisStore struct {
	redis  *database.Redis
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed document store
func NewRedisStore(redis *database.Redis, logger *zap.Logger) Store {
	return &redisStore{redis: redis, logger: logger}
}

func collectionKey(collection string) string {
	return fmt.Sprintf("docs:%s", collection)
}

func collectionChannel(collection string) string {
	return fmt.Sprintf("docstore:%s", collection)
}

// Put creates or replaces a document and publishes the change
func (r *redisStore) Put(ctx context.Context, collection, id string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	if err := r.redis.Client.HSet(ctx, collectionKey(collection), id, payload).Err(); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}

	r.publish(ctx, collection, id)
	return nil
}

// Merge upserts the given fields, keeping existing ones
func (r *redisStore) Merge(ctx context.Context, collection, id string, fields map[string]any) error {
	existing, err := r.Get(ctx, collection, id)
	if err != nil && err != ErrNotFound {
		return err
	}

	merged := make(map[string]any, len(fields))
	if err == nil {
		for k, v := range existing.Fields {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}

	return r.Put(ctx, collection, id, merged)
}

// Get returns the document or ErrNotFound
func (r *redisStore) Get(ctx context.Context, collection, id string) (Document, error) {
	payload, err := r.redis.Client.HGet(ctx, collectionKey(collection), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("failed to read document: %w", err)
	}

	return decodeDocument(id, []byte(payload))
}

// Delete removes a document; missing documents are ignored
func (r *redisStore) Delete(ctx context.Context, collection, id string) error {
	removed, err := r.redis.Client.HDel(ctx, collectionKey(collection), id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if removed > 0 {
		r.publish(ctx, collection, id)
	}
	return nil
}

// List returns the current document set of the collection
func (r *redisStore) List(ctx context.Context, collection string) ([]Document, error) {
	entries, err := r.redis.Client.HGetAll(ctx, collectionKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	docs := make([]Document, 0, len(entries))
	for id, payload := range entries {
		doc, err := decodeDocument(id, []byte(payload))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Watch subscribes to the collection channel and re-reads the hash on
// every published change
func (r *redisStore) Watch(ctx context.Context, collection string) (*Subscription, error) {
	pubsub := r.redis.Client.Subscribe(ctx, collectionChannel(collection))

	// Force the subscription onto the wire before the initial snapshot
	// so no change between snapshot and subscribe is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to collection: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	sub := newSubscription(func() {
		cancel()
		_ = pubsub.Close()
	})

	initial, err := r.List(ctx, collection)
	if err != nil {
		sub.Unsubscribe()
		close(sub.updates)
		return nil, err
	}
	sub.push(initial)

	go func() {
		defer close(sub.updates)
		messages := pubsub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				docs, err := r.List(watchCtx, collection)
				if err != nil {
					r.logger.Warn("failed to reload collection after change",
						zap.String("collection", collection),
						zap.Error(err),
					)
					continue
				}
				sub.push(docs)
			}
		}
	}()

	return sub, nil
}

func (r *redisStore) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx)
}

func (r *redisStore) Close() error {
	return nil
}

func (r *redisStore) publish(ctx context.Context, collection, id string) {
	if err := r.redis.Client.Publish(ctx, collectionChannel(collection), id).Err(); err != nil {
		// Watchers miss one live update; the next change republishes.
		r.logger.Warn("failed to publish document change",
			zap.String("collection", collection),
			zap.String("doc_id", id),
			zap.Error(err),
		)
	}
}

func decodeDocument(id string, payload []byte) (Document, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Document{}, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return Document{ID: id, Fields: fields}, nil
}
