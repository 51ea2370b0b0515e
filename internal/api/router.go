package api

import (
	"net/http"

	"github.com/kuitang/entrystore/internal/auth"
	"github.com/kuitang/entrystore/internal/entries"
	"github.com/kuitang/entrystore/internal/manifest"
	"github.com/kuitang/entrystore/internal/obs"
	"github.com/kuitang/entrystore/internal/ratelimit"
)

// RouterConfig collects the dependencies of the HTTP surface.
type RouterConfig struct {
	Entries  *entries.Service
	Verifier auth.Verifier // nil means auth.Passthrough
	Manifest manifest.Source
	MCP      http.Handler           // optional, mounted at /mcp
	Limiter  *ratelimit.RateLimiter // optional
}

// NewRouter builds the full handler chain:
// request context, access log, panic recovery, CORS, auth, rate limit, routes.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	NewHandler(cfg.Entries).RegisterRoutes(mux)
	if cfg.Manifest != nil {
		mux.Handle("GET "+manifest.Path, manifest.Handler(cfg.Manifest))
	}
	if cfg.MCP != nil {
		mux.Handle("/mcp", cfg.MCP)
	}

	var h http.Handler = mux
	if cfg.Limiter != nil {
		h = ratelimit.RateLimitMiddleware(cfg.Limiter, principalKey)(h)
	}
	h = auth.NewMiddleware(cfg.Verifier).OptionalAuth(h)
	h = CORS(h)
	h = obs.RecoverMiddleware(h)
	h = obs.AccessLogMiddleware("http", h)
	return obs.RequestContextMiddleware(h)
}

func principalKey(r *http.Request) string {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		return ""
	}
	return p.UserID
}
