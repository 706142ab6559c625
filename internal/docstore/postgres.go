package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soundnetapp/soundnet-core/pkg/database"
	"go.uber.org/zap"
)

const defaultPollInterval = 2 * time.Second

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		doc_id     TEXT NOT NULL,
		fields     JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, doc_id)
	);
	CREATE INDEX IF NOT EXISTS documents_collection_updated_idx
		ON documents (collection, updated_at);
`

// postgresStore implements Store on PostgreSQL with a single documents
// table. Watch is interval polling on a per-collection fingerprint;
// the Subscription contract is the same as the push-based adapters.
type postgresStore struct {
	db           *database.Postgres
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewPostgresStore creates a PostgreSQL-backed document store and
// ensures its schema exists
func NewPostgresStore(ctx context.Context, db *database.Postgres, logger *zap.Logger, pollInterval time.Duration) (Store, error) {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	if _, err := db.DB.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to create documents schema: %w", err)
	}

	return &postgresStore{db: db, logger: logger, pollInterval: pollInterval}, nil
}

// Put creates or wholesale-replaces the document
func (p *postgresStore) Put(ctx context.Context, collection, id string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	query := `
		INSERT INTO documents (collection, doc_id, fields, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, doc_id)
		DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()
	`
	if _, err := p.db.DB.ExecContext(ctx, query, collection, id, payload); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	return nil
}

// Merge upserts the given fields, preserving existing ones via jsonb
// concatenation
func (p *postgresStore) Merge(ctx context.Context, collection, id string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	query := `
		INSERT INTO documents (collection, doc_id, fields, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (collection, doc_id)
		DO UPDATE SET fields = documents.fields || EXCLUDED.fields, updated_at = now()
	`
	if _, err := p.db.DB.ExecContext(ctx, query, collection, id, payload); err != nil {
		return fmt.Errorf("failed to merge document: %w", err)
	}
	return nil
}

// Get returns the document or ErrNotFound
func (p *postgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	query := `SELECT fields FROM documents WHERE collection = $1 AND doc_id = $2`

	var payload []byte
	err := p.db.DB.QueryRowContext(ctx, query, collection, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("failed to get document: %w", err)
	}

	return decodeDocument(id, payload)
}

// Delete removes the document; missing documents are ignored
func (p *postgresStore) Delete(ctx context.Context, collection, id string) error {
	query := `DELETE FROM documents WHERE collection = $1 AND doc_id = $2`
	if _, err := p.db.DB.ExecContext(ctx, query, collection, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// List returns the current document set of the collection
func (p *postgresStore) List(ctx context.Context, collection string) ([]Document, error) {
	query := `SELECT doc_id, fields FROM documents WHERE collection = $1`

	rows, err := p.db.DB.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDocument(id, payload)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, nil
}

// Watch polls the collection fingerprint and emits a fresh snapshot
// whenever it changes
func (p *postgresStore) Watch(ctx context.Context, collection string) (*Subscription, error) {
	watchCtx, cancel := context.WithCancel(context.Background())
	sub := newSubscription(cancel)

	initial, err := p.List(ctx, collection)
	if err != nil {
		sub.Unsubscribe()
		close(sub.updates)
		return nil, err
	}
	sub.push(initial)

	lastFP, err := p.fingerprint(ctx, collection)
	if err != nil {
		sub.Unsubscribe()
		close(sub.updates)
		return nil, err
	}

	go func() {
		defer close(sub.updates)
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				fp, err := p.fingerprint(watchCtx, collection)
				if err != nil {
					if watchCtx.Err() != nil {
						return
					}
					p.logger.Warn("failed to poll collection",
						zap.String("collection", collection),
						zap.Error(err),
					)
					continue
				}
				if fp == lastFP {
					continue
				}
				docs, err := p.List(watchCtx, collection)
				if err != nil {
					if watchCtx.Err() != nil {
						return
					}
					p.logger.Warn("failed to reload collection after change",
						zap.String("collection", collection),
						zap.Error(err),
					)
					continue
				}
				lastFP = fp
				sub.push(docs)
			}
		}
	}()

	return sub, nil
}

func (p *postgresStore) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *postgresStore) Close() error {
	return nil
}

// fingerprint summarizes a collection as count plus latest update; a
// change in either means the document set changed
func (p *postgresStore) fingerprint(ctx context.Context, collection string) (string, error) {
	query := `
		SELECT count(*), coalesce(max(updated_at), 'epoch'::timestamptz)
		FROM documents WHERE collection = $1
	`

	var count int64
	var latest time.Time
	if err := p.db.DB.QueryRowContext(ctx, query, collection).Scan(&count, &latest); err != nil {
		return "", fmt.Errorf("failed to fingerprint collection: %w", err)
	}
	return fmt.Sprintf("%d/%d", count, latest.UnixNano()), nil
}
