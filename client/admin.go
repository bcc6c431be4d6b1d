package client

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AdminRoutes mounts the read-mostly ops surface: stats for dashboards
// and a cache flush for operators. No auth here; the caller decides what
// middleware guards the router.
func (c *Client) AdminRoutes(r chi.Router) {
	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := c.Stats(req.Context())
		if err != nil {
			writeError(w, 500, err)
			return
		}
		writeJSON(w, 200, stats)
	})

	r.Post("/cache/clear", func(w http.ResponseWriter, req *http.Request) {
		if err := c.ClearCache(req.Context()); err != nil {
			writeError(w, 500, err)
			return
		}
		c.logger.Info("client: cache cleared via admin endpoint")
		writeJSON(w, 200, map[string]bool{"cleared": true})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("client: admin response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
