// Package kit holds the small transport-agnostic plumbing shared by the
// exposed surfaces: endpoints, middleware chaining, request-scoped context
// values, and MCP tool registration.
package kit

import "context"

// Endpoint is one logical operation behind any transport.
type Endpoint func(ctx context.Context, request any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one listed is outermost.
func Chain(mw ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}
