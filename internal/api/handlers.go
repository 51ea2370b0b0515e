// Package api exposes the entry service over JSON/HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/kuitang/entrystore/internal/auth"
	"github.com/kuitang/entrystore/internal/entries"
	"github.com/kuitang/entrystore/internal/errs"
	"github.com/kuitang/entrystore/internal/obs"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Handler wraps the entry service and provides HTTP handlers
type Handler struct {
	entries *entries.Service
}

// NewHandler creates a new API handler with the given entry service
func NewHandler(entryService *entries.Service) *Handler {
	return &Handler{entries: entryService}
}

// RegisterRoutes registers all entry routes on the given mux.
// Principals are read from the request context, so the mux must sit behind
// auth.Middleware.OptionalAuth.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.Root)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /get/{id}", h.GetEntry)
	mux.HandleFunc("POST /search", h.SearchEntries)
	mux.HandleFunc("POST /add", h.AddEntry)
	mux.HandleFunc("POST /add_batch", h.AddEntries)
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"Hello": "World"})
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.entries.Ready(r.Context()); err != nil {
		obs.From(r.Context()).Warn("api: health check failed", "error", err)
		writeError(w, errs.HTTPStatus(errs.CodeOf(err)), errs.MessageOf(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetEntry handles GET /get/{id}
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	result, err := h.entries.Get(r.Context(), p, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if result.Status.Denied() {
		writeDenied(w)
		return
	}
	writeJSON(w, http.StatusOK, result.Entry)
}

// SearchEntries handles POST /search
func (h *Handler) SearchEntries(w http.ResponseWriter, r *http.Request) {
	var req entries.SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	result, err := h.entries.Search(r.Context(), p, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if result.Status.Denied() {
		writeDenied(w)
		return
	}
	writeJSON(w, http.StatusOK, result.Entries)
}

// AddEntry handles POST /add
func (h *Handler) AddEntry(w http.ResponseWriter, r *http.Request) {
	var req entries.EntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	result, err := h.entries.Add(r.Context(), p, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if result.Status.Denied() {
		writeDenied(w)
		return
	}
	writeJSON(w, http.StatusOK, result.Entry)
}

// AddEntries handles POST /add_batch
func (h *Handler) AddEntries(w http.ResponseWriter, r *http.Request) {
	var reqs []entries.EntryRequest
	if !decodeJSON(w, r, &reqs) {
		return
	}

	p, _ := auth.PrincipalFrom(r.Context())
	result, err := h.entries.AddBatch(r.Context(), p, reqs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if result.Status.Denied() {
		writeDenied(w)
		return
	}
	writeJSON(w, http.StatusOK, result.Entries)
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// decodeJSON reads a size-capped JSON body into dst. A literal null body is
// rejected. On failure it writes the error response and returns false.
// Required fields are checked by the entry service.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", MaxBodyBytes))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		writeError(w, http.StatusBadRequest, "request body must not be null")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// writeDenied renders unauthenticated and not-owned outcomes. Both look
// exactly like an empty result.
func writeDenied(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, []entries.Entry{})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(errs.CodeOf(err))
	if status >= http.StatusInternalServerError {
		obs.From(r.Context()).Error("api: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, errs.MessageOf(err))
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
