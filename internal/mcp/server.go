// Package mcp exposes the entry operations as Model Context Protocol tools
// over the Streamable HTTP transport.
package mcp

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"

	"github.com/kuitang/entrystore/internal/auth"
	"github.com/kuitang/entrystore/internal/entries"
	"github.com/kuitang/entrystore/internal/logutil"
	"github.com/kuitang/entrystore/internal/obs"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// ServerName is reported to MCP clients during initialization.
	ServerName    = "entrystore"
	ServerVersion = "1.0.0"

	mcpDebugBodyLogLimitBytes = 8 * 1024
)

// Server serves MCP over HTTP. Each request gets its own mcp.Server whose
// tools are bound to the request's principal.
type Server struct {
	handler     *Handler
	httpHandler http.Handler
}

// NewServer creates the MCP HTTP endpoint for the entry service.
func NewServer(entrySvc *entries.Service) *Server {
	s := &Server{handler: NewHandler(entrySvc)}
	s.httpHandler = mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server {
			p, _ := auth.PrincipalFrom(r.Context())
			return s.newMCPServer(p)
		},
		&mcp.StreamableHTTPOptions{
			JSONResponse: true,
			// Every request carries its own bearer token, so no session
			// state is kept between requests.
			Stateless: true,
		},
	)
	return s
}

func (s *Server) newMCPServer(p auth.Principal) *mcp.Server {
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)
	for _, tool := range ToolDefinitions() {
		mcp.AddTool(mcpServer, tool, s.handler.createToolHandler(p, tool.Name))
	}
	registerPrompts(mcpServer)
	return mcpServer
}

// ServeHTTP implements http.Handler for the Streamable HTTP transport.
// CORS preflight is answered upstream by api.CORS.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	l := obs.From(ctx).With("pkg", "mcp")
	debug := l.Enabled(ctx, slog.LevelDebug)

	if debug && r.Body != nil && r.Method == http.MethodPost {
		reqBody, err := io.ReadAll(io.LimitReader(r.Body, mcpDebugBodyLogLimitBytes+1))
		if err != nil {
			l.Error("mcp: request body read failed", "error", err)
		}
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(reqBody), r.Body))
		truncated := len(reqBody) > mcpDebugBodyLogLimitBytes
		l.Debug("mcp request",
			"method", r.Method,
			"headers", logutil.FormatHeadersForLog(r.Header),
			"body", logutil.FormatBodyForLog(r.Header.Get("Content-Type"), reqBody, mcpDebugBodyLogLimitBytes, truncated),
		)
	}

	wrapped, recorder := obs.NewResponseRecorder(w)
	s.httpHandler.ServeHTTP(wrapped, r)

	if !recorder.WroteHeader() {
		l.Error("mcp: handler returned without writing response", "method", r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"MCP handler returned without writing response"}`))
		return
	}
	if recorder.StatusCode() >= http.StatusBadRequest {
		l.Warn("mcp: request failed", "method", r.Method, "status", recorder.StatusCode())
	}
}
