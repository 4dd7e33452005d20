package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/carlmjohnson/versioninfo"
	didtdw "github.com/did-method-tdw/go-didtdw"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WatchRequest is the body for POST /dids.
type WatchRequest struct {
	DID    string `json:"did"`
	LogURL string `json:"logUrl,omitempty"`
}

// DIDSummary is one row of the GET /dids listing.
type DIDSummary struct {
	DID           string `json:"did"`
	HeadVersion   int64  `json:"headVersion"`
	HeadVersionID string `json:"headVersionId,omitempty"`
	Deactivated   bool   `json:"deactivated"`
}

// Server exposes the watcher's store over HTTP.
type Server struct {
	store   *Store
	watcher *Watcher
	hub     *Hub
	addr    string
	logger  *slog.Logger
}

func NewServer(store *Store, watcher *Watcher, hub *Hub, addr string, logger *slog.Logger) *Server {
	return &Server{
		store:   store,
		watcher: watcher,
		hub:     hub,
		addr:    addr,
		logger:  logger.With("component", "server"),
	}
}

// Run starts the HTTP server (blocking).
func (s *Server) Run() error {
	handler := s.Handler()
	s.logger.Info("http server listening", "addr", s.addr)
	return http.ListenAndServe(s.addr, handler)
}

// Handler builds the route table. Split out from Run for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /_health", s.handleHealth)
	mux.HandleFunc("GET /dids", s.handleListDIDs)
	mux.HandleFunc("POST /dids", s.handleWatch)
	mux.HandleFunc("GET /updates", s.handleUpdates)
	mux.HandleFunc("GET /{did}/log", s.handleDIDLog)
	mux.HandleFunc("GET /{did}/metadata", s.handleDIDMetadata)
	mux.HandleFunc("GET /{did}", s.handleDIDDoc)
	mux.HandleFunc("DELETE /{did}", s.handleUnwatch)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	return otelhttp.NewHandler(mux, "")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, "hello tdw watcher\n")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": versioninfo.Short(),
	})
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// handleWatch handles POST /dids - registers a DID for tracking
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	var req WatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if _, err := didtdw.ParseDID(req.DID); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.Watch(r.Context(), req.DID, req.LogURL); err != nil {
		writeJSONError(w, fmt.Sprintf("error registering DID: %v", err), http.StatusInternalServerError)
		return
	}

	// first refresh happens out of band so registration returns fast; the
	// request context dies with the response, so use a fresh one
	if s.watcher != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), httpClientTimeout)
			defer cancel()
			if err := s.watcher.Refresh(ctx, req.DID); err != nil {
				s.logger.Warn("initial refresh failed", "did", req.DID, "error", err)
			}
		}()
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"did": req.DID})
}

// handleUnwatch handles DELETE /{did}
func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	did := r.PathValue("did")
	if err := s.store.Unwatch(r.Context(), did); err != nil {
		writeJSONError(w, fmt.Sprintf("DID not watched: %s", did), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListDIDs handles GET /dids
func (s *Server) handleListDIDs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListDIDs(r.Context())
	if err != nil {
		writeJSONError(w, fmt.Sprintf("error listing DIDs: %v", err), http.StatusInternalServerError)
		return
	}
	out := make([]DIDSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, DIDSummary{
			DID:           rec.DID,
			HeadVersion:   rec.HeadVersion,
			HeadVersionID: rec.HeadVersionID,
			Deactivated:   rec.Deactivated,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleDIDDoc handles GET /{did} - returns the latest verified DID document
func (s *Server) handleDIDDoc(w http.ResponseWriter, r *http.Request) {
	did := r.PathValue("did")

	rec, err := s.store.GetRecord(r.Context(), did)
	if err != nil {
		writeJSONError(w, fmt.Sprintf("error fetching record: %v", err), http.StatusInternalServerError)
		return
	}
	if rec == nil || rec.HeadVersion == 0 {
		writeJSONError(w, fmt.Sprintf("DID not watched: %s", did), http.StatusNotFound)
		return
	}
	if rec.Deactivated {
		writeJSONError(w, fmt.Sprintf("DID deactivated: %s", did), http.StatusGone)
		return
	}

	w.Header().Set("Content-Type", "application/did+json")
	w.Write(rec.Document)
}

// handleDIDMetadata handles GET /{did}/metadata
func (s *Server) handleDIDMetadata(w http.ResponseWriter, r *http.Request) {
	did := r.PathValue("did")

	rec, err := s.store.GetRecord(r.Context(), did)
	if err != nil {
		writeJSONError(w, fmt.Sprintf("error fetching record: %v", err), http.StatusInternalServerError)
		return
	}
	if rec == nil || rec.HeadVersion == 0 {
		writeJSONError(w, fmt.Sprintf("DID not watched: %s", did), http.StatusNotFound)
		return
	}

	md := didtdw.DocumentMetadata{
		DID:         rec.DID,
		VersionID:   rec.HeadVersionID,
		VersionTime: rec.Updated,
		Created:     rec.Created,
		Updated:     rec.Updated,
		Deactivated: rec.Deactivated,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(md)
}

// handleDIDLog handles GET /{did}/log - serves the committed log as did.jsonl
func (s *Server) handleDIDLog(w http.ResponseWriter, r *http.Request) {
	did := r.PathValue("did")

	entries, err := s.store.GetEntries(r.Context(), did)
	if err != nil {
		writeJSONError(w, fmt.Sprintf("error fetching log: %v", err), http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 {
		writeJSONError(w, fmt.Sprintf("DID not watched: %s", did), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/jsonl")
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return
		}
	}
}

// handleUpdates handles GET /updates - websocket stream of committed entries
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSONError(w, "updates stream not enabled", http.StatusNotFound)
		return
	}
	s.hub.serveUpdates(w, r, s.logger)
}
