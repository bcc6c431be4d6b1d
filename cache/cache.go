// Package cache provides a durable TTL cache with LRU eviction, backed by
// SQLite so expensive upstream calls are not repeated after a process
// restart. Values are JSON blobs; entries that no longer deserialize are
// deleted and reported as misses rather than surfaced as errors.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Config configures a Cache.
type Config struct {
	// MaxSize is the entry count at which LRU eviction kicks in.
	MaxSize int
	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL time.Duration
	// Logger for sweep/corruption events.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 1000
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Cache is the TTL/LRU front over a durable Store. Hit/miss counters are
// process-local; the entries themselves live in the store.
type Cache struct {
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	hits      int
	misses    int
	evictions int
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(c *Cache) { c.now = fn }
}

// New creates a Cache over store and runs the startup expiry sweep.
// The caller keeps ownership of nothing: Close releases the store.
func New(store Store, cfg Config, opts ...Option) (*Cache, error) {
	cfg.defaults()
	c := &Cache{
		store:  store,
		config: cfg,
		logger: cfg.Logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}

	swept, err := store.Sweep(context.Background(), c.now())
	if err != nil {
		return nil, fmt.Errorf("cache: startup sweep: %w", err)
	}
	if swept > 0 {
		c.logger.Info("cache: swept expired entries", "count", swept)
	}
	return c, nil
}

// Close releases the backing store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// Key derives the content-addressed cache key for a raw key and optional
// context discriminator. Identical inputs always collide to one entry.
func Key(rawKey, keyContext string) string {
	input := rawKey
	if keyContext != "" {
		input = rawKey + ":" + keyContext
	}
	sum := blake2b.Sum256([]byte(input))
	return fmt.Sprintf("%x", sum[:16])
}

// Get looks up rawKey (with optional context) and unmarshals the stored
// JSON into v. Returns false on miss, expiry, or a corrupt entry; corrupt
// and expired entries are deleted on the way out.
func (c *Cache) Get(ctx context.Context, rawKey, keyContext string, v any) bool {
	key := Key(rawKey, keyContext)

	entry, err := c.store.Read(ctx, key)
	if err != nil {
		if err != ErrNotFound {
			c.logger.Warn("cache: read failed", "key", rawKey, "error", err)
		}
		c.miss()
		return false
	}

	now := c.now()
	if entry.Expired(now) {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("cache: delete expired failed", "key", rawKey, "error", err)
		}
		c.miss()
		return false
	}

	if err := json.Unmarshal(entry.Value, v); err != nil {
		// Corrupt payload: drop it and treat as a miss.
		c.logger.Warn("cache: corrupt entry removed", "key", rawKey, "error", err)
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("cache: delete corrupt failed", "key", rawKey, "error", err)
		}
		c.miss()
		return false
	}

	if err := c.store.Touch(ctx, key, entry.Hits+1, now); err != nil {
		c.logger.Warn("cache: touch failed", "key", rawKey, "error", err)
	}
	c.hit()
	return true
}

// Set stores v (JSON-serialized) under rawKey with the given TTL (zero
// means the configured default). When the store is at capacity the least
// recently accessed entry is evicted first.
func (c *Cache) Set(ctx context.Context, rawKey string, v any, ttl time.Duration, keyContext string) error {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: marshal value: %w", err)
	}

	count, err := c.store.Count(ctx)
	if err != nil {
		return err
	}
	if count >= c.config.MaxSize {
		oldest, err := c.store.OldestKey(ctx)
		if err == nil {
			if err := c.store.Delete(ctx, oldest); err != nil {
				return err
			}
			c.evict()
		} else if err != ErrNotFound {
			return err
		}
	}

	now := c.now()
	return c.store.Write(ctx, &Entry{
		Key:          Key(rawKey, keyContext),
		RawKey:       rawKey,
		Value:        data,
		CreatedAt:    now,
		TTL:          ttl,
		Hits:         0,
		LastAccessed: now,
	})
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Stats reports cache effectiveness for observability.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      int     `json:"hits"`
	Misses    int     `json:"misses"`
	Evictions int     `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Stats returns current counters plus the live entry count from the store.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	size, err := c.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Size:      size,
		MaxSize:   c.config.MaxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s, nil
}

func (c *Cache) hit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) miss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func (c *Cache) evict() {
	c.mu.Lock()
	c.evictions++
	c.mu.Unlock()
}
