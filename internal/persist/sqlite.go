package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS mirror_entries (
    context_id TEXT    PRIMARY KEY,
    store_id   TEXT    NOT NULL DEFAULT '',
    files      TEXT    NOT NULL,
    saved_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bindings (
    context_id TEXT    PRIMARY KEY,
    store_id   TEXT    NOT NULL,
    bound_at   INTEGER NOT NULL
);
`

// SQLiteMirror persists mirrors and bindings in a local SQLite database.
type SQLiteMirror struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ Mirror   = (*SQLiteMirror)(nil)
	_ Bindings = (*SQLiteMirror)(nil)
)

// OpenSQLite opens (creating if needed) the database at path. Use ":memory:"
// for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persist: open %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: migrate %q: %w", path, err)
	}
	return &SQLiteMirror{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteMirror) Close() error { return s.db.Close() }

// Ping reports whether the database is usable.
func (s *SQLiteMirror) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Save implements [Mirror]. Files are stored as one JSON object of
// filename to content.
func (s *SQLiteMirror) Save(ctx context.Context, contextID string, e Entry) error {
	files := make(map[string]string, len(e.Files))
	for name, b := range e.Files {
		files[name] = string(b)
	}
	raw, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("persist: encode mirror %q: %w", contextID, err)
	}
	const q = `
		INSERT INTO mirror_entries (context_id, store_id, files, saved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (context_id)
		DO UPDATE SET store_id = excluded.store_id, files = excluded.files, saved_at = excluded.saved_at`
	if _, err := s.db.ExecContext(ctx, q, contextID, e.StoreID, string(raw), e.SavedAt.UnixMilli()); err != nil {
		return fmt.Errorf("persist: save mirror %q: %w", contextID, err)
	}
	return nil
}

// Load implements [Mirror].
func (s *SQLiteMirror) Load(ctx context.Context, contextID string) (Entry, bool, error) {
	var (
		storeID, raw string
		savedAt      int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT store_id, files, saved_at FROM mirror_entries WHERE context_id = ?`, contextID,
	).Scan(&storeID, &raw, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("persist: load mirror %q: %w", contextID, err)
	}
	var files map[string]string
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		return Entry{}, false, fmt.Errorf("persist: decode mirror %q: %w", contextID, err)
	}
	e := Entry{StoreID: storeID, Files: make(map[string][]byte, len(files)), SavedAt: time.UnixMilli(savedAt)}
	for name, c := range files {
		e.Files[name] = []byte(c)
	}
	return e, true, nil
}

// Bind implements [Bindings].
func (s *SQLiteMirror) Bind(ctx context.Context, contextID, storeID string) error {
	const q = `
		INSERT INTO bindings (context_id, store_id, bound_at)
		VALUES (?, ?, ?)
		ON CONFLICT (context_id)
		DO UPDATE SET store_id = excluded.store_id, bound_at = excluded.bound_at`
	if _, err := s.db.ExecContext(ctx, q, contextID, storeID, s.now().UnixNano()); err != nil {
		return fmt.Errorf("persist: bind %q: %w", contextID, err)
	}
	return nil
}

// Lookup implements [Bindings]. The last used set is the most recently bound
// one.
func (s *SQLiteMirror) Lookup(ctx context.Context, contextID string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT store_id FROM bindings WHERE context_id = ?`, contextID).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("persist: lookup %q: %w", contextID, err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT store_id FROM bindings ORDER BY bound_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("persist: lookup last used: %w", err)
	}
	return id, false, nil
}
