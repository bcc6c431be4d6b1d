package engines

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/relais/transport"
)

// DuckDuckGoConfig configures the DuckDuckGo adapter.
type DuckDuckGoConfig struct {
	// Endpoint is the HTML (no-JS) search endpoint.
	// Default: https://html.duckduckgo.com/html/.
	Endpoint string
	// Timeout per attempt. Default: 20s.
	Timeout time.Duration
	// Logger for fallback debug lines.
	Logger *slog.Logger
}

func (c *DuckDuckGoConfig) defaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://html.duckduckgo.com/html/"
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// DuckDuckGo scrapes the HTML no-JS endpoint. It goes through the proxy
// first and falls back to a direct request as a last resort; results from
// the direct path carry a distinct source tag so callers can tell the
// anonymity property was lost.
type DuckDuckGo struct {
	config    DuckDuckGoConfig
	transport transport.Transport
	logger    *slog.Logger
}

// NewDuckDuckGo builds the adapter.
func NewDuckDuckGo(t transport.Transport, cfg DuckDuckGoConfig) *DuckDuckGo {
	cfg.defaults()
	return &DuckDuckGo{config: cfg, transport: t, logger: cfg.Logger}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Available() bool { return true }

// Search queries the HTML endpoint, proxied first then direct.
func (d *DuckDuckGo) Search(ctx context.Context, query string, max int) ([]Result, error) {
	results, proxyErr := d.searchVia(ctx, query, max, transport.ProxySOCKS, "duckduckgo")
	if proxyErr == nil {
		return results, nil
	}

	d.logger.Debug("engines: duckduckgo proxied path failed, trying direct", "error", proxyErr)
	results, err := d.searchVia(ctx, query, max, transport.ProxyNone, "duckduckgo-direct")
	if err != nil {
		return nil, fmt.Errorf("engines: duckduckgo: proxied: %v; direct: %w", proxyErr, err)
	}
	return results, nil
}

func (d *DuckDuckGo) searchVia(ctx context.Context, query string, max int, mode transport.ProxyMode, source string) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)

	resp, err := d.transport.Perform(ctx, transport.Request{
		URL:     d.config.Endpoint + "?" + q.Encode(),
		Timeout: d.config.Timeout,
		Proxy:   mode,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("engines: duckduckgo: http %d", resp.StatusCode)
	}

	results, err := parseDDGHTML(resp.Body, max, source)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("engines: duckduckgo: no results parsed")
	}
	return results, nil
}

// parseDDGHTML extracts results from the no-JS result page. Each hit is an
// anchor with class result__a (title + redirect href) followed by an
// element with class result__snippet.
func parseDDGHTML(body []byte, max int, source string) ([]Result, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("engines: duckduckgo: parse html: %w", err)
	}

	var results []Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= max {
			return
		}
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				results = append(results, Result{
					Title:  sanitize(nodeText(n)),
					URL:    resolveDDGHref(attr(n, "href")),
					Source: source,
				})
			case hasClass(n, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = sanitize(nodeText(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

// resolveDDGHref unwraps the /l/?uddg=<encoded> redirect the endpoint
// wraps external links in.
func resolveDDGHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
