package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/hazyhaar/relais/transport"
)

// defaultSearXInstances are public mirrors from searx.space. The adapter
// rotates through them so a dead mirror does not take the engine down.
var defaultSearXInstances = []string{
	"https://searx.be",
	"https://searx.tiekoetter.com",
	"https://searx.fmac.xyz",
	"https://search.ononoki.org",
	"https://searx.work",
}

// searXMaxMirrorTries caps how many mirrors one Search call burns through.
const searXMaxMirrorTries = 3

// SearXConfig configures the SearX adapter.
type SearXConfig struct {
	// Instances overrides the default mirror list.
	Instances []string
	// Timeout per mirror attempt. Default: 15s.
	Timeout time.Duration
	// Logger for mirror-level debug lines.
	Logger *slog.Logger
}

func (c *SearXConfig) defaults() {
	if len(c.Instances) == 0 {
		c.Instances = defaultSearXInstances
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// SearX queries SearXNG mirrors over the proxied transport using the JSON
// API. The mirror cursor persists across calls so a failing mirror is not
// retried first every time.
type SearX struct {
	config    SearXConfig
	transport transport.Transport
	logger    *slog.Logger

	mu      sync.Mutex
	current int
}

// NewSearX builds the adapter.
func NewSearX(t transport.Transport, cfg SearXConfig) *SearX {
	cfg.defaults()
	return &SearX{config: cfg, transport: t, logger: cfg.Logger}
}

func (s *SearX) Name() string { return "searx" }

func (s *SearX) Available() bool { return len(s.config.Instances) > 0 }

// searxPayload matches the SearXNG /search?format=json response.
type searxPayload struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search tries up to three mirrors and returns the first non-empty result
// set. The cursor moves past every failed mirror, the last one tried
// included, so the next call always starts on a fresh mirror.
func (s *SearX) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}

	tries := min(searXMaxMirrorTries, len(s.config.Instances))
	var lastErr error
	for range tries {
		instance := s.currentInstance()
		results, err := s.searchInstance(ctx, instance, query, max)
		if err != nil {
			s.logger.Debug("engines: searx mirror failed", "instance", instance, "error", err)
			s.advanceCursor()
			lastErr = err
			continue
		}
		if len(results) > 0 {
			return results, nil
		}
		s.advanceCursor()
		lastErr = fmt.Errorf("engines: searx %s: empty result set", instance)
	}
	return nil, fmt.Errorf("engines: all searx mirrors failed: %w", lastErr)
}

func (s *SearX) currentInstance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Instances[s.current]
}

func (s *SearX) advanceCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = (s.current + 1) % len(s.config.Instances)
}

func (s *SearX) searchInstance(ctx context.Context, instance, query string, max int) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("pageno", "1")

	resp, err := s.transport.Perform(ctx, transport.Request{
		URL:     instance + "/search?" + q.Encode(),
		Timeout: s.config.Timeout,
		Proxy:   transport.ProxySOCKS,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("engines: searx %s: http %d", instance, resp.StatusCode)
	}

	var payload searxPayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("engines: searx %s: decode: %w", instance, err)
	}

	results := make([]Result, 0, min(max, len(payload.Results)))
	for _, item := range payload.Results {
		if len(results) >= max {
			break
		}
		results = append(results, Result{
			Title:   sanitize(item.Title),
			URL:     item.URL,
			Snippet: sanitize(item.Content),
			Source:  "searx",
		})
	}
	return results, nil
}
