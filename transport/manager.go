package transport

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"time"
)

// EMA learning rate and the bounds the success-rate estimate is clamped
// to. The floor keeps a cold strategy from being starved forever; the
// ceiling keeps a hot one from being trusted absolutely.
const (
	emaAlpha = 0.3
	rateMin  = 0.1
	rateMax  = 0.95
)

// recencyWindow is how long the recency bonus takes to decay to zero.
const recencyWindow = time.Hour

// ManagerConfig configures the strategy scorer.
type ManagerConfig struct {
	// PrimaryTimeout applies to the proxied primary and new-circuit
	// strategies. Default: 30s.
	PrimaryTimeout time.Duration
	// BridgeTimeout applies to the bridge-profile strategy. Default: 60s.
	BridgeTimeout time.Duration
	// DirectTimeout applies to the direct fallback. Default: 15s.
	DirectTimeout time.Duration
	// RotateFallbackDelay is the wait applied when circuit rotation fails
	// and we retry on whatever circuit we have. Default: 5s.
	RotateFallbackDelay time.Duration
	// Logger for attempt-level lines.
	Logger *slog.Logger
}

func (c *ManagerConfig) defaults() {
	if c.PrimaryTimeout <= 0 {
		c.PrimaryTimeout = 30 * time.Second
	}
	if c.BridgeTimeout <= 0 {
		c.BridgeTimeout = 60 * time.Second
	}
	if c.DirectTimeout <= 0 {
		c.DirectTimeout = 15 * time.Second
	}
	if c.RotateFallbackDelay <= 0 {
		c.RotateFallbackDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type execFunc func(ctx context.Context, url, method string) (*Response, error)

// strategy is one named transport path with its adaptive score state.
type strategy struct {
	name     string
	rate     float64
	lastUsed time.Time
	failures int
	exec     execFunc
}

// Attempt records one strategy try for caller-side diagnosis.
type Attempt struct {
	Strategy   string        `json:"strategy"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
}

// Result is the outcome of a resilient request. Exhaustion of every
// strategy is reported here as Success=false with the full attempt
// history, never as a Go error.
type Result struct {
	Success         bool
	StatusCode      int
	Body            []byte
	Header          http.Header
	StrategyUsed    string
	Attempts        []Attempt
	StrategiesTried int
	Error           string
}

// Manager holds the fixed strategy set and picks the order per call.
// Designed for one logical caller; a mutex guards the score state so
// concurrent use is safe, though attempts are always sequential within
// one call by construction.
type Manager struct {
	mu         sync.Mutex
	order      []string // insertion order, used to break score ties
	strategies map[string]*strategy

	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)
	jitter func() float64 // uniform [0,1), feeds the inter-attempt backoff
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithManagerClock sets a custom clock function (for testing).
func WithManagerClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = fn }
}

// WithManagerSleep replaces the cooperative sleep between failed attempts
// (for testing).
func WithManagerSleep(fn func(ctx context.Context, d time.Duration)) ManagerOption {
	return func(m *Manager) { m.sleep = fn }
}

// NewManager builds the scorer with the standard four strategies over the
// given transport. rotator may be nil, in which case the new-circuit
// strategy degrades to a plain proxied request.
func NewManager(t Transport, rotator Rotator, cfg ManagerConfig, opts ...ManagerOption) *Manager {
	cfg.defaults()
	m := &Manager{
		strategies: make(map[string]*strategy),
		logger:     cfg.Logger,
		now:        time.Now,
		jitter:     rand.Float64,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
	for _, o := range opts {
		o(m)
	}

	perform := func(mode ProxyMode, timeout time.Duration) execFunc {
		return func(ctx context.Context, url, method string) (*Response, error) {
			return t.Perform(ctx, Request{URL: url, Method: method, Timeout: timeout, Proxy: mode})
		}
	}

	// Initial rates come from observed field behavior and seed the ordering
	// until live outcomes take over: the direct path almost always works,
	// so it is tried first out of the box and the proxied paths overtake it
	// only once their EMAs earn a better score.
	m.register("tor_primary", 0.5, perform(ProxySOCKS, cfg.PrimaryTimeout))
	m.register("tor_new_circuit", 0.7, func(ctx context.Context, url, method string) (*Response, error) {
		if rotator != nil {
			if err := rotator.Rotate(ctx); err != nil {
				// Rotation is best-effort: wait out the fallback delay and
				// retry on the current circuit.
				m.logger.Warn("transport: circuit rotation failed", "error", err)
				m.sleep(ctx, cfg.RotateFallbackDelay)
			}
		}
		return t.Perform(ctx, Request{URL: url, Method: method, Timeout: cfg.PrimaryTimeout, Proxy: ProxySOCKS})
	})
	m.register("tor_bridge", 0.6, perform(ProxyBridge, cfg.BridgeTimeout))
	m.register("fallback_direct", 0.9, perform(ProxyNone, cfg.DirectTimeout))

	return m
}

func (m *Manager) register(name string, initialRate float64, exec execFunc) {
	m.order = append(m.order, name)
	m.strategies[name] = &strategy{name: name, rate: initialRate, exec: exec}
}

// ordered returns strategy names best-first: score = success rate plus a
// small bonus that decays linearly over an hour since last use. Ties keep
// registration order.
func (m *Manager) ordered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	names := make([]string, len(m.order))
	copy(names, m.order)
	score := func(name string) float64 {
		s := m.strategies[name]
		bonus := 0.0
		if !s.lastUsed.IsZero() {
			if frac := 1 - now.Sub(s.lastUsed).Seconds()/recencyWindow.Seconds(); frac > 0 {
				bonus = frac
			}
		}
		return s.rate + 0.1*bonus
	}
	sort.SliceStable(names, func(i, j int) bool {
		return score(names[i]) > score(names[j])
	})
	return names
}

// recordOutcome applies the EMA update and stamps last use.
func (m *Manager) recordOutcome(name string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.strategies[name]
	if !ok {
		return
	}
	if success {
		s.rate = s.rate*(1-emaAlpha) + emaAlpha
	} else {
		s.rate = s.rate * (1 - emaAlpha)
		s.failures++
	}
	if s.rate < rateMin {
		s.rate = rateMin
	}
	if s.rate > rateMax {
		s.rate = rateMax
	}
	s.lastUsed = m.now()
}

// Do tries every strategy in score order until one completes, updating
// scores as it goes. Each strategy is tried at most once per call. The
// returned Result is always non-nil; exhaustion is a structured failure.
func (m *Manager) Do(ctx context.Context, url, method string) *Result {
	ordered := m.ordered()
	result := &Result{StrategiesTried: len(ordered)}
	var lastErr string

	for i, name := range ordered {
		if ctx.Err() != nil {
			lastErr = ctx.Err().Error()
			break
		}

		s := m.strategies[name]
		start := m.now()
		resp, err := s.exec(ctx, url, method)
		latency := m.now().Sub(start)

		if err != nil {
			m.recordOutcome(name, false)
			lastErr = err.Error()
			result.Attempts = append(result.Attempts, Attempt{
				Strategy: name, Latency: latency, Error: err.Error(),
			})
			m.logger.Debug("transport: strategy failed",
				"strategy", name, "url", url, "error", err)
			if i < len(ordered)-1 {
				// Small randomized pause so consecutive strategies do not
				// hammer a struggling endpoint back to back.
				m.sleep(ctx, time.Duration(float64(time.Second)*(1+2*m.jitter())))
			}
			continue
		}

		m.recordOutcome(name, true)
		result.Attempts = append(result.Attempts, Attempt{
			Strategy: name, Success: true, StatusCode: resp.StatusCode, Latency: latency,
		})
		result.Success = true
		result.StatusCode = resp.StatusCode
		result.Body = resp.Body
		result.Header = resp.Header
		result.StrategyUsed = name
		return result
	}

	result.Error = "all strategies failed"
	if lastErr != "" {
		result.Error += ": " + lastErr
	}
	return result
}

// StrategyStats is the read-only view of one strategy's score state.
type StrategyStats struct {
	SuccessRate float64   `json:"success_rate"`
	Failures    int       `json:"failures"`
	LastUsed    time.Time `json:"last_used"`
}

// Stats returns per-strategy score state for reporting. Callers get
// copies; the live state never leaves the Manager.
func (m *Manager) Stats() map[string]StrategyStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]StrategyStats, len(m.strategies))
	for name, s := range m.strategies {
		out[name] = StrategyStats{
			SuccessRate: s.rate,
			Failures:    s.failures,
			LastUsed:    s.lastUsed,
		}
	}
	return out
}
