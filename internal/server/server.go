// Package server exposes the ingestion and retrieval API over JSON HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hindsight-dev/hindsight/internal/database"
	"github.com/hindsight-dev/hindsight/internal/model"
	"github.com/hindsight-dev/hindsight/internal/pipeline"
	"github.com/hindsight-dev/hindsight/internal/search"
	"github.com/hindsight-dev/hindsight/internal/wscache"
)

// Server is the HTTP API server.
type Server struct {
	db       *database.DB
	pipeline *pipeline.Pipeline
	engine   *search.Engine
	cache    *wscache.Cache
	mux      *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, p *pipeline.Pipeline, e *search.Engine, cache *wscache.Cache) *Server {
	s := &Server{db: db, pipeline: p, engine: e, cache: cache, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /v1/events", s.handleIngest)
	s.mux.HandleFunc("POST /v1/search", s.handleSearch)
	s.mux.HandleFunc("POST /v1/similar", s.handleSimilar)
	s.mux.HandleFunc("GET /v1/observations/{id}", s.handleGetObservation)
	s.mux.HandleFunc("POST /v1/workspaces/{id}/invalidate-config", s.handleInvalidateConfig)
	s.mux.HandleFunc("POST /v1/workspaces/{id}/replay-failed", s.handleReplayFailed)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var ev model.SourceEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, &model.ValidationError{Msg: "malformed JSON body"})
		return
	}

	o, err := s.pipeline.Process(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &model.ValidationError{Msg: "malformed JSON body"})
		return
	}

	resp, err := s.engine.Search(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req model.SimilarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &model.ValidationError{Msg: "malformed JSON body"})
		return
	}

	resp, err := s.engine.FindSimilar(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetObservation(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace")
	if workspaceID == "" {
		writeError(w, &model.ValidationError{Field: "workspace", Msg: "query parameter required"})
		return
	}

	o, err := s.db.GetObservation(workspaceID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleInvalidateConfig(w http.ResponseWriter, r *http.Request) {
	s.cache.Invalidate(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplayFailed(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.ReplayFailed(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"replayed": result.Replayed,
		"failed":   result.Failed,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.db.GetStats(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Serve runs the API server on the local interface until the process
// exits.
func Serve(db *database.DB, p *pipeline.Pipeline, e *search.Engine, cache *wscache.Cache, port int) error {
	srv := New(db, p, e, cache)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	slog.Info("server listening", "addr", addr)
	return http.ListenAndServe(addr, srv.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var valErr *model.ValidationError
	var nfErr *model.NotFoundError
	var cfgErr *model.ConfigError
	var upErr *model.UpstreamError
	var rlErr *model.RateLimitedError
	switch {
	case errors.As(err, &valErr):
		status = http.StatusBadRequest
	case errors.As(err, &nfErr):
		status = http.StatusNotFound
	case errors.As(err, &cfgErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &rlErr):
		status = http.StatusTooManyRequests
	case errors.As(err, &upErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
