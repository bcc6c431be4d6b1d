package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/relais/kit"
)

// RegisterMCP registers the facade as MCP tools on an MCP server.
func (c *Client) RegisterMCP(srv *mcp.Server) {
	c.registerFetch(srv)
	c.registerSearch(srv)
	c.registerStats(srv)
	c.registerCacheClear(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (c *Client) registerFetch(srv *mcp.Server) {
	type req struct {
		URL string `json:"url"`
	}

	tool := &mcp.Tool{
		Name:        "relais_fetch",
		Description: "Fetch a URL through the resilient transport, serving from cache when possible",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "URL to fetch"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return c.Fetch(ctx, p.URL), nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto[req])
}

func (c *Client) registerSearch(srv *mcp.Server) {
	type req struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
		TimeoutSec int    `json:"timeout_seconds"`
	}

	tool := &mcp.Tool{
		Name:        "relais_search",
		Description: "Search across the configured engines with per-engine circuit breaking",
		InputSchema: inputSchema(map[string]any{
			"query":           map[string]any{"type": "string", "description": "Search query"},
			"max_results":     map[string]any{"type": "integer", "description": "Maximum results (default 10)"},
			"timeout_seconds": map[string]any{"type": "integer", "description": "Wall-clock budget in seconds (default 30)"},
		}, []string{"query"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return c.Query(ctx, p.Query, p.MaxResults, time.Duration(p.TimeoutSec)*time.Second), nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto[req])
}

func (c *Client) registerStats(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "relais_stats",
		Description: "Report strategy success rates, engine breaker states, and cache hit rate",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return c.Stats(ctx)
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto[req])
}

func (c *Client) registerCacheClear(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "relais_cache_clear",
		Description: "Drop every cached fetch and search entry",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		if err := c.ClearCache(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"cleared": true}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decodeInto[req])
}

// decodeInto unmarshals MCP arguments into T for RegisterMCPTool.
func decodeInto[T any](r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var p T
	if len(r.Params.Arguments) > 0 {
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
	}
	return &kit.MCPDecodeResult{Request: &p}, nil
}
