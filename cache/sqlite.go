package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/relais/dbopen"
)

// Schema for the cache table. Timestamps and TTLs are stored as unix
// milliseconds so entries survive restarts without float precision games.
const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    key           TEXT PRIMARY KEY,
    raw_key       TEXT NOT NULL,
    data          BLOB NOT NULL,
    created_at    INTEGER NOT NULL,
    ttl_ms        INTEGER NOT NULL,
    hits          INTEGER NOT NULL DEFAULT 0,
    last_accessed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expiry ON cache_entries(created_at, ttl_ms);
CREATE INDEX IF NOT EXISTS idx_cache_lru ON cache_entries(last_accessed);
`

// SQLiteStore is the durable Store implementation backing the cache.
// Every method is a single statement or transaction, so a store handle
// may be shared freely across goroutines.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a cache database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("cache: open store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps an already-open database, applying the cache schema.
// Useful for tests running against an in-memory database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Read(ctx context.Context, key string) (*Entry, error) {
	var (
		e         Entry
		createdMs int64
		ttlMs     int64
		accessMs  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, raw_key, data, created_at, ttl_ms, hits, last_accessed
		 FROM cache_entries WHERE key = ?`, key).
		Scan(&e.Key, &e.RawKey, &e.Value, &createdMs, &ttlMs, &e.Hits, &accessMs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read: %w", err)
	}
	e.CreatedAt = time.UnixMilli(createdMs)
	e.TTL = time.Duration(ttlMs) * time.Millisecond
	e.LastAccessed = time.UnixMilli(accessMs)
	return &e, nil
}

func (s *SQLiteStore) Write(ctx context.Context, e *Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries
		 (key, raw_key, data, created_at, ttl_ms, hits, last_accessed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.RawKey, e.Value,
		e.CreatedAt.UnixMilli(), e.TTL.Milliseconds(), e.Hits, e.LastAccessed.UnixMilli())
	if err != nil {
		return fmt.Errorf("cache: write: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Touch(ctx context.Context, key string, hits int, accessed time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET hits = ?, last_accessed = ? WHERE key = ?`,
		hits, accessed.UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("cache: touch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) OldestKey(ctx context.Context) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT key FROM cache_entries ORDER BY last_accessed ASC LIMIT 1`).Scan(&key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cache: oldest key: %w", err)
	}
	return key, nil
}

func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE ? - created_at > ttl_ms`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
