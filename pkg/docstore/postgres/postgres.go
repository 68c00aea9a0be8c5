// Package postgres stores document sets in PostgreSQL, one row per document.
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/worldtracker/pkg/docstore"
)

const ddl = `
CREATE TABLE IF NOT EXISTS document_sets (
    id          TEXT         PRIMARY KEY,
    description TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
    set_id      TEXT         NOT NULL REFERENCES document_sets (id) ON DELETE CASCADE,
    filename    TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (set_id, filename)
);
`

var _ docstore.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [docstore.Store]. It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn and creates the tables when missing.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres docstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres docstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres docstore: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// FetchAll implements [docstore.Store].
func (s *Store) FetchAll(ctx context.Context, id string) (map[string][]byte, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM document_sets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("postgres docstore: fetch %q: %w", id, err)
	}
	if !exists {
		return nil, fmt.Errorf("postgres docstore: fetch %q: %w", id, docstore.ErrNotFound)
	}

	rows, err := s.pool.Query(ctx, `SELECT filename, content FROM documents WHERE set_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres docstore: fetch %q: %w", id, err)
	}
	out := make(map[string][]byte)
	var name, content string
	_, err = pgx.ForEachRow(rows, []any{&name, &content}, func() error {
		out[name] = []byte(content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres docstore: scan %q: %w", id, err)
	}
	return out, nil
}

// Patch implements [docstore.Store]. All files are written in one
// transaction.
func (s *Store) Patch(ctx context.Context, id string, files map[string]docstore.File) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE document_sets SET updated_at = now() WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("postgres docstore: patch %q: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres docstore: patch %q: %w", id, docstore.ErrNotFound)
		}
		return upsert(ctx, tx, id, files)
	})
}

// Create implements [docstore.Store]. Set ids are random UUIDs.
func (s *Store) Create(ctx context.Context, description string, files map[string]docstore.File) (string, error) {
	id := uuid.NewString()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO document_sets (id, description) VALUES ($1, $2)`, id, description); err != nil {
			return fmt.Errorf("postgres docstore: create: %w", err)
		}
		return upsert(ctx, tx, id, files)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func upsert(ctx context.Context, tx pgx.Tx, id string, files map[string]docstore.File) error {
	const q = `
		INSERT INTO documents (set_id, filename, content)
		VALUES ($1, $2, $3)
		ON CONFLICT (set_id, filename)
		DO UPDATE SET content = EXCLUDED.content, updated_at = now()`

	batch := &pgx.Batch{}
	for name, f := range files {
		batch.Queue(q, id, name, f.Content)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres docstore: write %q: %w", id, err)
	}
	return nil
}
