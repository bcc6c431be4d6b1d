// Package breaker implements a three-state circuit breaker used to stop
// hammering a resource that keeps failing. Closed passes calls through,
// open rejects them for a cooldown period, half-open lets a single probe
// through to test recovery.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	Closed   State = iota // normal operation, calls pass through
	Open                  // calls rejected until the cooldown elapses
	HalfOpen              // one probe call allowed to test recovery
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker tracks consecutive failures against one protected resource.
// Thread-safe: all state transitions hold a mutex.
//
// Thresholds and cooldowns are constructor parameters because the right
// values depend on the volatility of the protected resource: a flaky
// public mirror wants a low threshold and short cooldown, a keyed API
// the opposite.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int // consecutive failures
	threshold   int
	cooldown    time.Duration
	lastFailure time.Time

	// Reporting counters. Never consulted by transition logic.
	successes int
	attempts  int

	now func() time.Time // injectable clock for testing
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithThreshold sets the consecutive-failure count that trips the breaker.
func WithThreshold(n int) Option {
	return func(b *Breaker) { b.threshold = n }
}

// WithCooldown sets how long the breaker stays open before allowing a probe.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) { b.cooldown = d }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(b *Breaker) { b.now = fn }
}

// New creates a breaker. Defaults: 3 failures to open, 30s cooldown.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		state:     Closed,
		threshold: 3,
		cooldown:  30 * time.Second,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// IsOpen reports whether calls should be skipped. When an open breaker's
// cooldown has elapsed, the call that observes it moves the breaker to
// half-open and is allowed through as the probe.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return false
	case Open:
		if b.now().Sub(b.lastFailure) >= b.cooldown {
			b.state = HalfOpen
			return false
		}
		return true
	default: // half-open: the probe is in flight, allow it
		return false
	}
}

// Remaining returns how long until an open breaker allows a probe.
// Zero when the breaker is not open.
func (b *Breaker) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return 0
	}
	rest := b.cooldown - b.now().Sub(b.lastFailure)
	if rest < 0 {
		return 0
	}
	return rest
}

// RecordSuccess records a successful call. Any success resets the
// consecutive failure count; a success after the half-open probe closes
// the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	b.successes++
	b.failures = 0
	if b.state == HalfOpen {
		b.state = Closed
	}
}

// RecordFailure records a failed call. Failures while not closed still
// count toward the consecutive total, so a failed probe re-opens the
// breaker with a fresh cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	b.failures++
	b.lastFailure = b.now()
	switch b.state {
	case Closed:
		if b.failures >= b.threshold {
			b.state = Open
		}
	case HalfOpen:
		b.state = Open
	}
}

// State returns the current state without triggering the open→half-open
// transition (unlike IsOpen).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
}

// Snapshot is a read-only view of breaker counters for reporting.
type Snapshot struct {
	State       string  `json:"state"`
	Failures    int     `json:"failures"`
	Successes   int     `json:"successes"`
	Attempts    int     `json:"total_attempts"`
	SuccessRate float64 `json:"success_rate"`
}

// Snapshot returns the current counters. SuccessRate is zero when no call
// has been recorded yet.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		State:     b.state.String(),
		Failures:  b.failures,
		Successes: b.successes,
		Attempts:  b.attempts,
	}
	if b.attempts > 0 {
		s.SuccessRate = float64(b.successes) / float64(b.attempts)
	}
	return s
}
