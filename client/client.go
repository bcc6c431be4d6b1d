// Package client is the facade callers use: cached, rate-limited fetch
// and search over the resilient transport and engine layers. Exhaustion
// and rate limiting come back as tagged result structs, never as errors;
// only misuse (nil wiring) errors at construction.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/relais/breaker"
	"github.com/hazyhaar/relais/cache"
	"github.com/hazyhaar/relais/engines"
	"github.com/hazyhaar/relais/ratelimit"
	"github.com/hazyhaar/relais/search"
	"github.com/hazyhaar/relais/transport"
)

// Cache key contexts keep fetch and query entries from colliding on the
// same raw key.
const (
	fetchKeyContext = "fetch"
	queryKeyContext = "query"
)

// Config wires the facade.
type Config struct {
	// Cache, Limiter, Manager and Coordinator are required.
	Cache       *cache.Cache
	Limiter     *ratelimit.Limiter
	Manager     *transport.Manager
	Coordinator *search.Coordinator

	// LongTTL caches confirmed-good responses (2xx fetches, validated
	// search results). Default: 1h.
	LongTTL time.Duration
	// ShortTTL caches completed-but-dubious responses (non-2xx fetches).
	// Default: 5m.
	ShortTTL time.Duration
	// MaxWait is the longest the facade will sleep out a rate-limit hint
	// before giving up with a RateLimited result. Default: 5s.
	MaxWait time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.LongTTL <= 0 {
		c.LongTTL = time.Hour
	}
	if c.ShortTTL <= 0 {
		c.ShortTTL = 5 * time.Minute
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is the cached resilient facade. Safe for one logical caller;
// the cache underneath is safe for concurrent use.
type Client struct {
	config Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration)
}

// Option customises a Client.
type Option func(*Client)

// WithSleep replaces the rate-limit wait (for testing).
func WithSleep(fn func(ctx context.Context, d time.Duration)) Option {
	return func(c *Client) { c.sleep = fn }
}

// New builds the facade.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.defaults()
	if cfg.Cache == nil || cfg.Limiter == nil {
		return nil, fmt.Errorf("client: cache and limiter are required")
	}
	if cfg.Manager == nil && cfg.Coordinator == nil {
		return nil, fmt.Errorf("client: at least one of manager or coordinator is required")
	}
	c := &Client{
		config: cfg,
		logger: cfg.Logger,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// FetchResult is the tagged outcome of one Fetch call.
type FetchResult struct {
	Success      bool                `json:"success"`
	StatusCode   int                 `json:"status_code,omitempty"`
	Content      []byte              `json:"content,omitempty"`
	Cached       bool                `json:"cached"`
	StrategyUsed string              `json:"strategy_used,omitempty"`
	Attempts     []transport.Attempt `json:"attempts,omitempty"`
	RateLimited  bool                `json:"rate_limited,omitempty"`
	RetryAfter   time.Duration       `json:"retry_after,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// cachedFetch is the opaque blob stored per fetched URL.
type cachedFetch struct {
	StatusCode   int    `json:"status_code"`
	Content      []byte `json:"content"`
	StrategyUsed string `json:"strategy_used"`
}

// Fetch returns the page at url, serving from cache when possible. The
// cached path carries no attempts. A rate-limit hint longer than MaxWait
// comes back as a RateLimited result with the hint.
func (c *Client) Fetch(ctx context.Context, url string) *FetchResult {
	logger := c.logger.With("request_id", uuid.NewString(), "url", url)

	var hit cachedFetch
	if c.config.Cache.Get(ctx, url, fetchKeyContext, &hit) {
		logger.Debug("client: fetch served from cache")
		return &FetchResult{
			Success:      true,
			StatusCode:   hit.StatusCode,
			Content:      hit.Content,
			StrategyUsed: hit.StrategyUsed,
			Cached:       true,
		}
	}

	if wait, limited := c.gate(ctx, logger); limited {
		return &FetchResult{RateLimited: true, RetryAfter: wait, Error: "rate limited"}
	}

	res := c.config.Manager.Do(ctx, url, http.MethodGet)
	c.config.Limiter.RecordOutcome(res.Success, boolToCount(res.Success))

	out := &FetchResult{
		Success:      res.Success,
		StatusCode:   res.StatusCode,
		Content:      res.Body,
		StrategyUsed: res.StrategyUsed,
		Attempts:     res.Attempts,
		Error:        res.Error,
	}
	if !res.Success {
		logger.Warn("client: fetch exhausted all strategies", "error", res.Error)
		return out
	}

	// Dubious responses still short-circuit repeats, just not for long.
	ttl := c.config.ShortTTL
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		ttl = c.config.LongTTL
	}
	entry := cachedFetch{StatusCode: res.StatusCode, Content: res.Body, StrategyUsed: res.StrategyUsed}
	if err := c.config.Cache.Set(ctx, url, entry, ttl, fetchKeyContext); err != nil {
		logger.Warn("client: fetch cache write failed", "error", err)
	}
	logger.Debug("client: fetch complete",
		"status", res.StatusCode, "strategy", res.StrategyUsed, "ttl", ttl)
	return out
}

// QueryResult is the tagged outcome of one Query call.
type QueryResult struct {
	Success       bool                   `json:"success"`
	Engine        string                 `json:"engine,omitempty"`
	Results       []engines.Result       `json:"results,omitempty"`
	Total         int                    `json:"total"`
	Cached        bool                   `json:"cached"`
	Attempts      []search.AttemptRecord `json:"attempts,omitempty"`
	ExecutionTime time.Duration          `json:"execution_time,omitempty"`
	RateLimited   bool                   `json:"rate_limited,omitempty"`
	RetryAfter    time.Duration          `json:"retry_after,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// cachedQuery is the opaque blob stored per (term, max) pair.
type cachedQuery struct {
	Engine  string           `json:"engine"`
	Results []engines.Result `json:"results"`
}

// Query searches for term across the configured engines, caching
// validated result sets keyed by (term, max).
func (c *Client) Query(ctx context.Context, term string, max int, timeout time.Duration) *QueryResult {
	logger := c.logger.With("request_id", uuid.NewString(), "term", term)
	rawKey := fmt.Sprintf("%s|%d", term, max)

	var hit cachedQuery
	if c.config.Cache.Get(ctx, rawKey, queryKeyContext, &hit) {
		logger.Debug("client: query served from cache")
		return &QueryResult{
			Success: true,
			Engine:  hit.Engine,
			Results: hit.Results,
			Total:   len(hit.Results),
			Cached:  true,
		}
	}

	if wait, limited := c.gate(ctx, logger); limited {
		return &QueryResult{RateLimited: true, RetryAfter: wait, Error: "rate limited"}
	}

	res := c.config.Coordinator.Search(ctx, term, max, timeout)
	c.config.Limiter.RecordOutcome(res.Success, res.Total)

	out := &QueryResult{
		Success:       res.Success,
		Engine:        res.Engine,
		Results:       res.Results,
		Total:         res.Total,
		Attempts:      res.Attempts,
		ExecutionTime: res.ExecutionTime,
		Error:         res.Error,
	}
	if !res.Success {
		logger.Warn("client: query exhausted all engines", "error", res.Error)
		return out
	}

	entry := cachedQuery{Engine: res.Engine, Results: res.Results}
	if err := c.config.Cache.Set(ctx, rawKey, entry, c.config.LongTTL, queryKeyContext); err != nil {
		logger.Warn("client: query cache write failed", "error", err)
	}
	logger.Debug("client: query complete", "engine", res.Engine, "total", res.Total)
	return out
}

// gate runs the rate limiter. Short hints are waited out; hints past
// MaxWait are returned to the caller as a RateLimited outcome.
func (c *Client) gate(ctx context.Context, logger *slog.Logger) (time.Duration, bool) {
	ok, wait := c.config.Limiter.Allow()
	if ok {
		return 0, false
	}
	if wait > c.config.MaxWait {
		logger.Info("client: rate limited", "retry_after", wait)
		return wait, true
	}

	logger.Debug("client: waiting out rate limit", "wait", wait)
	c.sleep(ctx, wait)
	if ok, wait = c.config.Limiter.Allow(); !ok {
		return wait, true
	}
	return 0, false
}

// Stats merges the component views for reporting.
type Stats struct {
	Strategies map[string]transport.StrategyStats `json:"strategies,omitempty"`
	Engines    map[string]search.EngineStats      `json:"engines,omitempty"`
	Cache      cache.Stats                        `json:"cache"`
	Limiter    breaker.Snapshot                   `json:"rate_limiter"`
}

// Stats returns the merged component stats.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	cacheStats, err := c.config.Cache.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("client: cache stats: %w", err)
	}
	s := Stats{
		Cache:   cacheStats,
		Limiter: c.config.Limiter.Snapshot(),
	}
	if c.config.Manager != nil {
		s.Strategies = c.config.Manager.Stats()
	}
	if c.config.Coordinator != nil {
		s.Engines = c.config.Coordinator.Stats()
	}
	return s, nil
}

// ClearCache drops every cached entry.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.config.Cache.Clear(ctx)
}

func boolToCount(ok bool) int {
	if ok {
		return 1
	}
	return 0
}
