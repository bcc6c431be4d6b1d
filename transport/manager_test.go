package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"
)

func testManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &Manager{
		strategies: make(map[string]*strategy),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        func() time.Time { return now },
		sleep:      func(context.Context, time.Duration) {},
		jitter:     func() float64 { return 0.5 },
	}
	return m, &now
}

func failing(err error) execFunc {
	return func(context.Context, string, string) (*Response, error) {
		return nil, err
	}
}

func succeeding(status int) execFunc {
	return func(context.Context, string, string) (*Response, error) {
		return &Response{StatusCode: status, Body: []byte("ok")}, nil
	}
}

func approx(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("rate = %v, want %v", got, want)
	}
}

func TestEMAOnFailure(t *testing.T) {
	m, _ := testManager(t)
	m.register("a", 0.9, failing(errors.New("down")))

	m.Do(context.Background(), "http://example.com", "GET")

	// 0.9 * 0.7 = 0.63
	approx(t, m.Stats()["a"].SuccessRate, 0.63)
	if m.Stats()["a"].Failures != 1 {
		t.Fatalf("failures = %d, want 1", m.Stats()["a"].Failures)
	}
}

func TestEMAOnSuccess(t *testing.T) {
	m, _ := testManager(t)
	m.register("a", 0.5, succeeding(200))

	res := m.Do(context.Background(), "http://example.com", "GET")
	if !res.Success || res.StrategyUsed != "a" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// 0.5 * 0.7 + 0.3 = 0.65
	approx(t, m.Stats()["a"].SuccessRate, 0.65)
}

func TestEMABounds(t *testing.T) {
	m, _ := testManager(t)
	m.register("up", 0.9, succeeding(200))
	m.register("down", 0.2, failing(errors.New("down")))

	for range 20 {
		m.recordOutcome("up", true)
		m.recordOutcome("down", false)
	}

	stats := m.Stats()
	if stats["up"].SuccessRate > rateMax {
		t.Fatalf("rate above ceiling: %v", stats["up"].SuccessRate)
	}
	if stats["down"].SuccessRate < rateMin {
		t.Fatalf("rate below floor: %v", stats["down"].SuccessRate)
	}
}

func TestOrderingByScore(t *testing.T) {
	m, _ := testManager(t)
	m.register("tor_primary", 0.5, failing(errors.New("x")))
	m.register("tor_new_circuit", 0.7, failing(errors.New("x")))
	m.register("tor_bridge", 0.6, failing(errors.New("x")))
	m.register("fallback_direct", 0.9, failing(errors.New("x")))

	got := m.ordered()
	want := []string{"fallback_direct", "tor_new_circuit", "tor_bridge", "tor_primary"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRecencyBonusBreaksEvenRates(t *testing.T) {
	m, now := testManager(t)
	m.register("a", 0.5, succeeding(200))
	m.register("b", 0.5, succeeding(200))

	// Equal rates: insertion order wins.
	if got := m.ordered(); got[0] != "a" {
		t.Fatalf("tie should keep insertion order, got %v", got)
	}

	// A recent use of b gives it the recency bonus.
	m.strategies["b"].lastUsed = *now
	*now = now.Add(time.Minute)

	if got := m.ordered(); got[0] != "b" {
		t.Fatalf("recently used strategy should sort first, got %v", got)
	}

	// An hour later the bonus has fully decayed.
	*now = now.Add(2 * time.Hour)
	if got := m.ordered(); got[0] != "a" {
		t.Fatalf("stale bonus should not reorder, got %v", got)
	}
}

func TestDoFallsThroughToNextStrategy(t *testing.T) {
	m, _ := testManager(t)
	var sleeps int
	m.sleep = func(context.Context, time.Duration) { sleeps++ }
	m.register("first", 0.9, failing(errors.New("conn refused")))
	m.register("second", 0.5, succeeding(200))

	res := m.Do(context.Background(), "http://example.com", "GET")

	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if res.StrategyUsed != "second" {
		t.Fatalf("strategy used = %s", res.StrategyUsed)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(res.Attempts))
	}
	if res.Attempts[0].Error == "" || res.Attempts[1].Error != "" {
		t.Fatalf("attempt errors: %+v", res.Attempts)
	}
	if sleeps != 1 {
		t.Fatalf("sleeps = %d, want 1 (between failed attempts only)", sleeps)
	}
}

func TestDoExhaustion(t *testing.T) {
	m, _ := testManager(t)
	var sleeps int
	m.sleep = func(context.Context, time.Duration) { sleeps++ }
	m.register("a", 0.9, failing(errors.New("a down")))
	m.register("b", 0.5, failing(errors.New("b down")))

	res := m.Do(context.Background(), "http://example.com", "GET")

	if res.Success {
		t.Fatal("expected structured failure")
	}
	if res.StrategiesTried != 2 || len(res.Attempts) != 2 {
		t.Fatalf("tried=%d attempts=%d", res.StrategiesTried, len(res.Attempts))
	}
	if res.Error == "" {
		t.Fatal("exhaustion must carry an error message")
	}
	// No sleep after the last attempt.
	if sleeps != 1 {
		t.Fatalf("sleeps = %d, want 1", sleeps)
	}
	// Each strategy tried exactly once.
	seen := map[string]int{}
	for _, a := range res.Attempts {
		seen[a.Strategy]++
	}
	for name, n := range seen {
		if n != 1 {
			t.Fatalf("strategy %s tried %d times", name, n)
		}
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	m, _ := testManager(t)
	m.register("a", 0.9, failing(errors.New("down")))
	m.register("b", 0.5, succeeding(200))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := m.Do(ctx, "http://example.com", "GET")
	if res.Success {
		t.Fatal("cancelled context must not succeed")
	}
	if len(res.Attempts) != 0 {
		t.Fatalf("no attempts should run after cancel, got %d", len(res.Attempts))
	}
}
