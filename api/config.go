// Package api provides the HTTP surface: the chat event stream, direct
// company search, enterprise matching, MCP and Prometheus metrics.
package api

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/papercomputeco/scout/pkg/matching"
	"github.com/papercomputeco/scout/pkg/search"
	"github.com/papercomputeco/scout/relay"
)

// DefaultKeepAlive is the chat stream keep-alive interval.
const DefaultKeepAlive = 15 * time.Second

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// KeepAlive is how often an idle chat stream gets an SSE comment, so
	// proxies keep the connection open while the relay waits on a search.
	// Zero means DefaultKeepAlive; negative disables it.
	KeepAlive time.Duration
}

// Streamer runs relay invocations.
type Streamer interface {
	Stream(ctx context.Context, req relay.Request) iter.Seq[relay.Event]
}

// CompanySearcher runs one direct company search.
type CompanySearcher interface {
	Search(ctx context.Context, filters search.Filters, query string, limit int) []search.Card
}

// Deps are the collaborators behind the routes. Relay, Search and Logger are
// required; a nil Matcher, MCP or Gatherer leaves its route unmounted.
type Deps struct {
	Relay   Streamer
	Search  CompanySearcher
	Matcher matching.Matcher

	// MCP serves /mcp.
	MCP http.Handler

	// Gatherer serves /metrics.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// ErrorResponse is the JSON body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
