// Package ratelimit spaces outbound calls for one request class and pauses
// the whole class through a circuit breaker when failures cluster. An
// upstream that answers successfully but returns nothing is counted as a
// failure: an empty result set means the backend is non-functional even
// when it did not error.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/relais/breaker"
)

// Config configures a Limiter.
type Config struct {
	// MinInterval is the minimum spacing between calls.
	MinInterval time.Duration
	// FailureThreshold is how many failures within FailureWindow trip the
	// breaker.
	FailureThreshold int
	// FailureWindow bounds how far back failures count. Default: 60s.
	FailureWindow time.Duration
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
	// HistorySize caps the retained failure timestamps. Default: 5.
	HistorySize int
	// Logger for breaker transitions.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MinInterval <= 0 {
		c.MinInterval = 2 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 60 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Limiter enforces minimum inter-call spacing for a single request class.
// Designed for one logical caller; all methods take a mutex so sharing is
// safe, but callers should not expect fairness.
type Limiter struct {
	mu       sync.Mutex
	config   Config
	brk      *breaker.Breaker
	last     time.Time   // last recorded request time
	failures []time.Time // bounded history of recent failure timestamps
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock sets a custom clock function (for testing). The clock is shared
// with the embedded breaker.
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) { l.now = fn }
}

// New creates a Limiter with its own embedded breaker.
func New(cfg Config, opts ...Option) *Limiter {
	cfg.defaults()
	l := &Limiter{
		config: cfg,
		logger: cfg.Logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	// Threshold 1: the windowed failure count below is the real threshold,
	// so one invocation of the breaker failure path must open it.
	l.brk = breaker.New(
		breaker.WithThreshold(1),
		breaker.WithCooldown(cfg.Cooldown),
		breaker.WithClock(func() time.Time { return l.now() }),
	)
	return l
}

// Allow reports whether a call may proceed now. When it may not, the
// returned duration is how long the caller should wait before retrying.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.brk.IsOpen() {
		return false, l.brk.Remaining()
	}

	elapsed := l.now().Sub(l.last)
	if elapsed < l.config.MinInterval {
		return false, l.config.MinInterval - elapsed
	}
	return true, 0
}

// RecordOutcome records the result of a call. A call counts as a failure
// when it errored or returned zero results. Enough failures inside the
// window open the breaker; the first success after a half-open probe
// clears the history and closes it.
func (l *Limiter) RecordOutcome(success bool, resultCount int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.last = now

	if !success || resultCount == 0 {
		l.failures = append(l.failures, now)
		if len(l.failures) > l.config.HistorySize {
			l.failures = l.failures[len(l.failures)-l.config.HistorySize:]
		}

		recent := 0
		for _, t := range l.failures {
			if now.Sub(t) < l.config.FailureWindow {
				recent++
			}
		}
		if recent >= l.config.FailureThreshold {
			l.brk.RecordFailure()
			if l.brk.State() == breaker.Open {
				l.logger.Warn("ratelimit: breaker opened", "recent_failures", recent)
			}
		}
		return
	}

	if l.brk.State() == breaker.HalfOpen {
		l.failures = l.failures[:0]
	}
	l.brk.RecordSuccess()
}

// Snapshot returns the embedded breaker's counters for reporting.
func (l *Limiter) Snapshot() breaker.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.brk.Snapshot()
}
