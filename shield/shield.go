// Package shield provides the HTTP middleware guarding the admin/ops
// surface: security headers, request body limits, and per-request IDs
// with a structured logger.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultOpsStack() {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultOpsStack returns the standard middleware stack for an ops
// endpoint: SecurityHeaders → MaxBody → RequestID.
func DefaultOpsStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(64 * 1024),
		RequestID,
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
