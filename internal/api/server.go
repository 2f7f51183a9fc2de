// Package api exposes the pipeline over HTTP: run control, status, and a
// live progress stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jobgrid/pipeline-cli/internal/pipeline"
	"github.com/jobgrid/pipeline-cli/internal/progress"
	"github.com/jobgrid/pipeline-cli/internal/store"
)

// Server wires the orchestrator and tracker into an HTTP handler. Runs
// started over HTTP outlive their request; they are bound to base, the
// server-lifetime context, not the request context.
type Server struct {
	base    context.Context
	orch    *pipeline.Orchestrator
	tracker *progress.Tracker
	store   store.Store
}

// NewServer creates the API server.
func NewServer(base context.Context, orch *pipeline.Orchestrator, tracker *progress.Tracker, st store.Store) *Server {
	if base == nil {
		base = context.Background()
	}
	return &Server{base: base, orch: orch, tracker: tracker, store: st}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/runs", s.handleStartRun)
		r.Get("/runs", s.handleListRuns)
		r.Route("/runs/current", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Delete("/", s.handleCancelRun)
		})
		r.Get("/runs/stream", s.handleStream)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStartRun begins a pipeline run. A second request while one is in
// flight gets 409 and leaves the active run untouched.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.Start(s.base)
	if err != nil {
		if eris.Is(err, pipeline.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "run already in progress")
			return
		}
		zap.L().Error("start run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, _ *http.Request) {
	if err := s.orch.Cancel(); err != nil {
		writeError(w, http.StatusConflict, "no run in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleStream sends progress snapshots as server-sent events. The first
// event is the current snapshot so late joiners see state immediately.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.tracker.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
