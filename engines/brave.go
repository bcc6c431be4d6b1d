package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hazyhaar/relais/transport"
)

// BraveConfig configures the Brave Search API adapter.
type BraveConfig struct {
	// APIKey is the subscription token. Without it the engine reports
	// itself unavailable.
	APIKey string
	// Endpoint overrides the API base (for tests).
	// Default: https://api.search.brave.com/res/v1/web/search.
	Endpoint string
	// Timeout per attempt. Default: 15s.
	Timeout time.Duration
}

func (c *BraveConfig) defaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
}

// Brave is the keyed REST API adapter. Requests go direct: the key already
// identifies the caller, so routing through the proxy buys nothing.
type Brave struct {
	config    BraveConfig
	transport transport.Transport
}

// NewBrave builds the adapter.
func NewBrave(t transport.Transport, cfg BraveConfig) *Brave {
	cfg.defaults()
	return &Brave{config: cfg, transport: t}
}

func (b *Brave) Name() string { return "brave" }

func (b *Brave) Available() bool { return b.config.APIKey != "" }

type bravePayload struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if !b.Available() {
		return nil, ErrUnavailable
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(max))

	header := http.Header{}
	header.Set("X-Subscription-Token", b.config.APIKey)
	header.Set("Accept", "application/json")

	resp, err := b.transport.Perform(ctx, transport.Request{
		URL:     b.config.Endpoint + "?" + q.Encode(),
		Header:  header,
		Timeout: b.config.Timeout,
		Proxy:   transport.ProxyNone,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("engines: brave: http %d", resp.StatusCode)
	}

	var payload bravePayload
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("engines: brave: decode: %w", err)
	}

	results := make([]Result, 0, min(max, len(payload.Web.Results)))
	for _, item := range payload.Web.Results {
		if len(results) >= max {
			break
		}
		results = append(results, Result{
			Title:   sanitize(item.Title),
			URL:     item.URL,
			Snippet: sanitize(item.Description),
			Source:  "brave",
		})
	}
	return results, nil
}
