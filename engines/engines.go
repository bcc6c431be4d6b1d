// Package engines adapts external search backends to one normalized
// interface. Each adapter owns its endpoint details and may retry across
// mirrors of the same logical backend; the coordinator in package search
// only ever sees one attempt per adapter call.
package engines

import (
	"context"
	"errors"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ErrUnavailable is returned by adapters that are not configured to run
// (missing API key, no endpoints). Coordinators should consult Available()
// first; the error exists for direct callers.
var ErrUnavailable = errors.New("engines: engine not available")

// Result is one normalized search hit. Title and Snippet are plain text,
// markup stripped.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

// Engine is a search backend adapter.
type Engine interface {
	// Name identifies the engine in attempt records and stats.
	Name() string
	// Available reports whether the adapter is configured to serve
	// requests. An unavailable engine is skipped, never an error.
	Available() bool
	// Search returns up to max normalized results. Internal mirror
	// rotation is private to the adapter; an error means the whole
	// logical backend failed.
	Search(ctx context.Context, query string, max int) ([]Result, error)
}

// stripPolicy removes every tag; backends occasionally leak <b> markers
// and query-highlighting spans into titles and snippets.
var stripPolicy = bluemonday.StrictPolicy()

func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(s)))
}
