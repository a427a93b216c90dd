package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/campus-hub/querysync/internal/querycache/keyspace"
	"github.com/campus-hub/querysync/internal/querycache/store"
	"github.com/campus-hub/querysync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CACHE INSPECTOR
// ══════════════════════════════════════════════════════════════════════════════

// Invalidator invalidates key prefixes and refetches subscribed views.
type Invalidator interface {
	ApplyRemote(ctx context.Context, prefixes []keyspace.QueryKey) error
}

// CacheEntry is the inspector's view of one store entry.
type CacheEntry struct {
	Key         []string     `json:"key"`
	Status      store.Status `json:"status"`
	HasData     bool         `json:"has_data"`
	Invalidated bool         `json:"invalidated"`
	Subscribers int          `json:"subscribers"`
	Generation  uint64       `json:"generation"`
	FetchedAt   string       `json:"fetched_at,omitempty"`
	Error       string       `json:"error,omitempty"`
	Data        any          `json:"data,omitempty"`
}

// CacheHandler exposes the query store for debugging.
type CacheHandler struct {
	store *store.Store
	inv   Invalidator
	log   *logger.Logger
}

// NewCacheHandler creates a CacheHandler. inv may be nil, which disables
// the invalidate endpoint.
func NewCacheHandler(s *store.Store, inv Invalidator, log *logger.Logger) *CacheHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &CacheHandler{store: s, inv: inv, log: log}
}

// Snapshot lists every entry. Data is included with ?data=true.
func (h *CacheHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	withData := r.URL.Query().Get("data") == "true"

	entries := h.store.Snapshot()
	out := make([]CacheEntry, 0, len(entries))
	for _, e := range entries {
		ce := CacheEntry{
			Key:         e.Key.Tokens(),
			Status:      e.Status,
			HasData:     e.HasData,
			Invalidated: e.Invalidated,
			Subscribers: e.Subscribers,
			Generation:  e.Generation,
		}
		if !e.FetchedAt.IsZero() {
			ce.FetchedAt = e.FetchedAt.UTC().Format(time.RFC3339Nano)
		}
		if e.Err != nil {
			ce.Error = e.Err.Error()
		}
		if withData {
			ce.Data = e.Data
		}
		out = append(out, ce)
	}
	WriteJSON(w, http.StatusOK, out)
}

type invalidateRequest struct {
	Keys [][]string `json:"keys"`
}

// Invalidate marks the posted key prefixes stale, e.g.
// {"keys": [["courses", "divA"]]}. An empty token list is the root key.
func (h *CacheHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if h.inv == nil {
		WriteError(w, http.StatusNotImplemented, "not_supported", "invalidation is not enabled")
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Keys) == 0 {
		WriteError(w, http.StatusBadRequest, "bad_request", "body must be {\"keys\": [[token, ...], ...]}")
		return
	}

	keys := keyspace.Keys(req.Keys)
	if err := h.inv.ApplyRemote(r.Context(), keys); err != nil {
		h.log.Warn("manual invalidation refetch failed", logger.Err(err))
	}
	h.log.Info("manual invalidation", logger.Int("prefixes", len(keys)))
	WriteJSON(w, http.StatusOK, map[string]int{"prefixes": len(keys)})
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// APIError is the body of an error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as the JSON body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an APIError.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]APIError{"error": {Code: code, Message: message}})
}
