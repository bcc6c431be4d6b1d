package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/hazyhaar/relais/transport"
)

// AhmiaConfig configures the onion-index adapter.
type AhmiaConfig struct {
	// Endpoint is the search API base. Default: https://ahmia.fi/search/.
	Endpoint string
	// Timeout per attempt. Default: 20s.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (c *AhmiaConfig) defaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://ahmia.fi/search/"
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Ahmia queries the onion-index JSON API. Always proxied: the index is
// reachable on the clearnet but the hits it returns are not, and the
// query itself should not leave a direct trail.
type Ahmia struct {
	config    AhmiaConfig
	transport transport.Transport
}

// NewAhmia builds the adapter.
func NewAhmia(t transport.Transport, cfg AhmiaConfig) *Ahmia {
	cfg.defaults()
	return &Ahmia{config: cfg, transport: t}
}

func (a *Ahmia) Name() string { return "ahmia" }

func (a *Ahmia) Available() bool { return true }

type ahmiaPayload struct {
	Results []struct {
		Title       string `json:"title"`
		URL         string `json:"url"`
		Description string `json:"description"`
	} `json:"results"`
}

func (a *Ahmia) Search(ctx context.Context, query string, max int) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")

	resp, err := a.transport.Perform(ctx, transport.Request{
		URL:     a.config.Endpoint + "?" + q.Encode(),
		Timeout: a.config.Timeout,
		Proxy:   transport.ProxySOCKS,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("engines: ahmia: http %d", resp.StatusCode)
	}

	var payload ahmiaPayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("engines: ahmia: decode: %w", err)
	}

	results := make([]Result, 0, min(max, len(payload.Results)))
	for _, item := range payload.Results {
		if len(results) >= max {
			break
		}
		results = append(results, Result{
			Title:   sanitize(item.Title),
			URL:     item.URL,
			Snippet: sanitize(item.Description),
			Source:  "ahmia",
		})
	}
	return results, nil
}
