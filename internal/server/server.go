// Package server exposes runs over HTTP: start a run, follow its progress as
// server-sent events, cancel it during extraction and fetch the parsed table.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"envreport/internal/export"
	"envreport/internal/logger"
	"envreport/internal/pipeline"
	"envreport/internal/progress"
	"envreport/internal/store"
)

// Runner is the part of pipeline.Runner the server drives.
type Runner interface {
	RunWithID(ctx context.Context, id, path string, ctl *progress.Controller) (*pipeline.Result, error)
}

// History looks up runs that are no longer in memory.
type History interface {
	GetRun(ctx context.Context, id string) (store.Run, error)
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
}

// Server holds the runs started since it came up.
type Server struct {
	runner  Runner
	history History
	origins []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*job

	log zerolog.Logger
}

// New returns a server. history may be nil.
func New(runner Runner, history History, origins []string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		runner:  runner,
		history: history,
		origins: origins,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job),
		log:     logger.WithComponent("server"),
	}
}

// Handler returns the routes wrapped in CORS.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "envreport"})
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/runs", s.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.createRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}", s.getRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/events", s.streamEvents).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/cancel", s.cancelRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}/table", s.getTable).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	return c.Handler(router)
}

// Shutdown asks running extractions to stop and waits for every run to end
// or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, j := range s.jobs {
		_ = j.ctl.Cancel()
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type createRunRequest struct {
	Path string `json:"path"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if info, err := os.Stat(req.Path); err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("cannot read %s", req.Path))
		return
	}

	j := s.start(req.Path)
	writeJSON(w, http.StatusAccepted, j.view())
}

func (s *Server) start(path string) *job {
	j := newJob(uuid.NewString(), path)

	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		j.follow()
	}()
	go func() {
		defer s.wg.Done()
		res, err := s.runner.RunWithID(s.ctx, j.id, path, j.ctl)
		if err != nil {
			s.log.Warn().Err(err).Str("run_id", j.id).Msg("Run failed")
		}
		j.finish(res)
	}()

	s.log.Info().Str("run_id", j.id).Str("document", filepath.Base(path)).Msg("Run started")
	return j
}

func (s *Server) lookup(id string) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	if s.history != nil {
		runs, err := s.history.ListRuns(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list runs")
			return
		}
		writeJSON(w, http.StatusOK, runs)
		return
	}

	s.mu.Lock()
	views := make([]runView, 0, len(s.jobs))
	for _, j := range s.jobs {
		views = append(views, j.view())
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if j, ok := s.lookup(id); ok {
		writeJSON(w, http.StatusOK, j.view())
		return
	}
	if s.history != nil {
		run, err := s.history.GetRun(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, run)
			return
		}
		if !errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusInternalServerError, "failed to read run")
			return
		}
	}
	writeError(w, http.StatusNotFound, "run not found")
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err := j.ctl.Cancel(); err != nil {
		// Analysis cannot be interrupted once the request is out.
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, j.view())
}

func (s *Server) getTable(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	res := j.result()
	if res == nil {
		writeError(w, http.StatusConflict, "run is still in progress")
		return
	}
	if res.Table == nil {
		writeError(w, http.StatusNotFound, "run produced no table")
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, res.ID))
		if err := export.WriteWorkbookTo(w, res.Table.Rows, res.Scores); err != nil {
			s.log.Error().Err(err).Str("run_id", res.ID).Msg("Failed to stream workbook")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     res.ID,
		"source": res.Table.Source,
		"rows":   res.Table.Rows,
		"scores": res.Scores,
	})
}

// streamEvents replays the run's events so far, then follows it until it
// reaches a terminal phase or the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	j, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	sent := 0
	for {
		events, changed, closed := j.since(sent)
		for _, ev := range events {
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
		}
		sent += len(events)
		flusher.Flush()
		if closed {
			return
		}

		select {
		case <-changed:
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
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
