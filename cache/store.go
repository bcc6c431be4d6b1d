package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Read when no entry exists for a key.
var ErrNotFound = errors.New("cache: entry not found")

// Entry is one stored cache record. Key is the derived content-addressed
// hash; RawKey keeps the original URL or query for inspection.
type Entry struct {
	Key          string
	RawKey       string
	Value        []byte
	CreatedAt    time.Time
	TTL          time.Duration
	Hits         int
	LastAccessed time.Time
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// Store is the durable key-value backend behind the cache. Implementations
// must make each method a self-contained transaction so the cache can be
// shared across goroutines without extra locking.
type Store interface {
	Read(ctx context.Context, key string) (*Entry, error)
	Write(ctx context.Context, e *Entry) error
	// Touch bumps the hit counter and access time of an existing entry.
	Touch(ctx context.Context, key string, hits int, accessed time.Time) error
	Delete(ctx context.Context, key string) error
	Count(ctx context.Context) (int, error)
	// OldestKey returns the least recently accessed key, or ErrNotFound
	// when the store is empty.
	OldestKey(ctx context.Context) (string, error)
	// Sweep deletes every expired entry, returning how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Clear(ctx context.Context) error
	Close() error
}
