// Package search coordinates queries across ranked engine adapters, one
// circuit breaker per engine. An engine that keeps failing is skipped
// wholesale until its cooldown elapses; that skip-vs-score distinction is
// what separates engines from transport strategies.
package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/relais/breaker"
	"github.com/hazyhaar/relais/engines"
)

// SkipBreakerOpen is the attempt-record reason for an engine skipped
// because its breaker was open.
const SkipBreakerOpen = "circuit_breaker_open"

// SkipUnavailable is the reason for an engine that is not configured.
const SkipUnavailable = "unavailable"

// BreakerParams are the per-engine circuit breaker settings.
type BreakerParams struct {
	Threshold int
	Cooldown  time.Duration
}

// defaultBreakerParams returns the tuned per-engine settings. The free
// mirrors flap often and recover fast; the keyed API is reliable enough
// that opening early would waste quota headroom for nothing.
func defaultBreakerParams(engine string) BreakerParams {
	switch engine {
	case "duckduckgo":
		return BreakerParams{Threshold: 2, Cooldown: 45 * time.Second}
	case "brave":
		return BreakerParams{Threshold: 5, Cooldown: 60 * time.Second}
	default: // searx, ahmia
		return BreakerParams{Threshold: 3, Cooldown: 30 * time.Second}
	}
}

// Config configures the coordinator.
type Config struct {
	// Engines in priority order. The order is fixed at construction.
	Engines []engines.Engine
	// Breakers overrides per-engine breaker settings by engine name.
	Breakers map[string]BreakerParams
	// Validator rejects low-quality result sets. Required.
	Validator *engines.Validator
	// DefaultTimeout is the wall-clock budget when the caller passes zero.
	// Default: 30s.
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

func (c *Config) defaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Validator == nil {
		c.Validator = engines.NewValidator(c.Logger)
	}
}

// AttemptRecord describes what happened with one engine during a search.
type AttemptRecord struct {
	Engine           string        `json:"engine"`
	Skipped          bool          `json:"skipped,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	Success          bool          `json:"success"`
	ValidationFailed bool          `json:"validation_failed,omitempty"`
	Error            string        `json:"error,omitempty"`
	Elapsed          time.Duration `json:"elapsed"`
	ResultCount      int           `json:"result_count,omitempty"`
}

// Result is the outcome of one coordinated search. Exhaustion is a
// structured failure with the full attempt history, never a Go error.
type Result struct {
	Success       bool             `json:"success"`
	Engine        string           `json:"engine,omitempty"`
	Results       []engines.Result `json:"results,omitempty"`
	Total         int              `json:"total"`
	Attempts      []AttemptRecord  `json:"attempts"`
	EnginesTried  int              `json:"engines_tried"`
	ExecutionTime time.Duration    `json:"execution_time"`
	Error         string           `json:"error,omitempty"`
}

// Coordinator runs queries across the engine list. Safe for one logical
// caller; breakers guard their own state.
type Coordinator struct {
	config   Config
	breakers map[string]*breaker.Breaker
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock sets a custom clock function shared by the budget check and
// every engine breaker (for testing).
func WithClock(fn func() time.Time) Option {
	return func(c *Coordinator) { c.now = fn }
}

// New builds a coordinator with one breaker per engine.
func New(cfg Config, opts ...Option) *Coordinator {
	cfg.defaults()
	c := &Coordinator{
		config:   cfg,
		breakers: make(map[string]*breaker.Breaker, len(cfg.Engines)),
		logger:   cfg.Logger,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	for _, eng := range cfg.Engines {
		params, ok := cfg.Breakers[eng.Name()]
		if !ok {
			params = defaultBreakerParams(eng.Name())
		}
		c.breakers[eng.Name()] = breaker.New(
			breaker.WithThreshold(params.Threshold),
			breaker.WithCooldown(params.Cooldown),
			breaker.WithClock(c.now),
		)
	}
	return c
}

// Search tries each engine in priority order until one returns a validated
// result set. The wall-clock budget is checked before each attempt; an
// in-flight call still runs to its own adapter timeout. No engine is tried
// twice within one call.
func (c *Coordinator) Search(ctx context.Context, query string, max int, timeout time.Duration) *Result {
	if max <= 0 {
		max = 10
	}
	if timeout <= 0 {
		timeout = c.config.DefaultTimeout
	}

	start := c.now()
	result := &Result{}
	var lastErr string

	for _, eng := range c.config.Engines {
		if c.now().Sub(start) >= timeout {
			c.logger.Debug("search: budget exhausted", "query", query)
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err().Error()
			break
		}

		name := eng.Name()
		if !eng.Available() {
			result.Attempts = append(result.Attempts, AttemptRecord{
				Engine: name, Skipped: true, Reason: SkipUnavailable,
			})
			continue
		}

		brk := c.breakers[name]
		if brk.IsOpen() {
			result.Attempts = append(result.Attempts, AttemptRecord{
				Engine: name, Skipped: true, Reason: SkipBreakerOpen,
			})
			c.logger.Debug("search: engine skipped, breaker open",
				"engine", name, "remaining", brk.Remaining())
			continue
		}

		result.EnginesTried++
		attemptStart := c.now()
		hits, err := eng.Search(ctx, query, max)
		elapsed := c.now().Sub(attemptStart)

		if err != nil {
			brk.RecordFailure()
			lastErr = err.Error()
			result.Attempts = append(result.Attempts, AttemptRecord{
				Engine: name, Error: err.Error(), Elapsed: elapsed,
			})
			c.logger.Warn("search: engine failed", "engine", name, "error", err)
			continue
		}

		if !c.config.Validator.Validate(hits, query) {
			// Bad data counts against the breaker exactly like a transport
			// failure, but the record says which it was.
			brk.RecordFailure()
			lastErr = "validation failed"
			result.Attempts = append(result.Attempts, AttemptRecord{
				Engine: name, ValidationFailed: true, Reason: "validation_failed",
				Elapsed: elapsed, ResultCount: len(hits),
			})
			c.logger.Warn("search: results failed validation",
				"engine", name, "count", len(hits))
			continue
		}

		brk.RecordSuccess()
		result.Attempts = append(result.Attempts, AttemptRecord{
			Engine: name, Success: true, Elapsed: elapsed, ResultCount: len(hits),
		})
		result.Success = true
		result.Engine = name
		result.Results = hits
		result.Total = len(hits)
		result.ExecutionTime = c.now().Sub(start)
		return result
	}

	result.ExecutionTime = c.now().Sub(start)
	result.Error = "all engines exhausted"
	if lastErr != "" {
		result.Error += ": " + lastErr
	}
	return result
}

// EngineStats is the reporting view of one engine.
type EngineStats struct {
	Available bool             `json:"available"`
	Breaker   breaker.Snapshot `json:"breaker"`
}

// Stats returns per-engine breaker snapshots and availability.
func (c *Coordinator) Stats() map[string]EngineStats {
	out := make(map[string]EngineStats, len(c.config.Engines))
	for _, eng := range c.config.Engines {
		out[eng.Name()] = EngineStats{
			Available: eng.Available(),
			Breaker:   c.breakers[eng.Name()].Snapshot(),
		}
	}
	return out
}
