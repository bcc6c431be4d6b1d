package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/relais/safeurl"
)

// defaultUserAgents mirrors a pool of current desktop browser strings; one
// is picked per request so the exit traffic does not fingerprint as a bot.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:122.0) Gecko/20100101 Firefox/122.0",
}

// HTTPConfig configures the default Transport implementation.
type HTTPConfig struct {
	// ProxyAddr is the SOCKS5 proxy address. Default: 127.0.0.1:9050.
	ProxyAddr string
	// MaxBody caps response body reads. Default: safeurl.MaxResponseBody.
	MaxBody int64
	// MaxConcurrent bounds in-flight exchanges so one slow path cannot
	// stall the process. Default: 8.
	MaxConcurrent int64
	// UserAgents overrides the built-in rotation pool.
	UserAgents []string
	// Logger for per-exchange debug lines.
	Logger *slog.Logger
}

func (c *HTTPConfig) defaults() {
	if c.ProxyAddr == "" {
		c.ProxyAddr = "127.0.0.1:9050"
	}
	if c.MaxBody <= 0 {
		c.MaxBody = safeurl.MaxResponseBody
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = defaultUserAgents
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// HTTPTransport performs exchanges with net/http, dialing through the
// SOCKS5 proxy for proxied modes. Blocking exchanges pass through a
// weighted semaphore acting as the bounded worker pool.
type HTTPTransport struct {
	config  HTTPConfig
	proxied *http.Client
	direct  *http.Client
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

// NewHTTP builds the default transport. The SOCKS dialer is constructed
// eagerly; it does not touch the network until the first request.
func NewHTTP(cfg HTTPConfig) (*HTTPTransport, error) {
	cfg.defaults()

	socks, err := proxy.SOCKS5("tcp", cfg.ProxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("transport: socks5 dialer: %w", err)
	}
	dialCtx, ok := socks.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("transport: socks5 dialer does not support contexts")
	}

	t := &HTTPTransport{
		config: cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		logger: cfg.Logger,
		proxied: &http.Client{
			Transport: &http.Transport{
				DialContext:         dialCtx.DialContext,
				MaxIdleConns:        16,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 20 * time.Second,
			},
		},
		direct: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
	}
	return t, nil
}

// Perform executes one exchange. Direct requests are validated against
// private/loopback targets first; proxied requests are not, since name
// resolution happens at the exit.
func (t *HTTPTransport) Perform(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Timeout <= 0 {
		req.Timeout = 30 * time.Second
	}

	client := t.proxied
	if req.Proxy == ProxyNone {
		if err := safeurl.Validate(req.URL); err != nil {
			return nil, err
		}
		client = t.direct
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("transport: acquire worker: %w", err)
	}
	defer t.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", t.config.UserAgents[rand.IntN(len(t.config.UserAgents))])
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if httpReq.Header.Get("Accept-Language") == "" {
		httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := safeurl.ReadAll(resp.Body, t.config.MaxBody)
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}

	t.logger.Debug("transport: exchange complete",
		"url", req.URL,
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed_ms", time.Since(start).Milliseconds(),
		"proxy", req.Proxy != ProxyNone)

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Header:     resp.Header,
	}, nil
}
