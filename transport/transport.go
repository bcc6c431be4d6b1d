// Package transport executes HTTP requests over alternative network paths
// (anonymizing SOCKS proxy, fresh proxy circuit, bridge-profile proxy,
// plain direct) and learns which path currently works best. The Manager
// scores each named strategy with an exponential moving average of its
// success rate and tries them in score order until one succeeds.
//
// A failing strategy is never disabled, only scored down: every strategy
// is an alternative route to the same goal, so a temporary dip should
// reduce selection, not eliminate it. Skip-wholesale semantics belong to
// the search coordinator's circuit breakers, not here.
package transport

import (
	"context"
	"net/http"
	"time"
)

// ProxyMode selects the network path for one request.
type ProxyMode int

const (
	ProxyNone   ProxyMode = iota // direct connection
	ProxySOCKS                   // through the anonymizing SOCKS proxy
	ProxyBridge                  // SOCKS with the bridge profile (longer timeout)
)

// Request describes one outbound HTTP call.
type Request struct {
	URL     string
	Method  string
	Header  http.Header
	Timeout time.Duration
	Proxy   ProxyMode
}

// Response is the outcome of a completed HTTP exchange. A non-2xx status
// is still a completed exchange; only network-level failures are errors.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Transport performs a single HTTP exchange over the path the request
// names. Implementations must honor ctx cancellation.
type Transport interface {
	Perform(ctx context.Context, req Request) (*Response, error)
}

// Rotator forces the anonymizing network onto a fresh path. Used by the
// new-circuit strategy before retrying; callers swallow rotation failures
// and fall back to a fixed delay.
type Rotator interface {
	Rotate(ctx context.Context) error
}
