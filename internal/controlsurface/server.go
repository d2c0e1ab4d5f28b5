// Package controlsurface implements the Control Surface from spec.md
// §4.8: the HTTP+WebSocket transport that starts runs and streams their
// event bus to connected clients. Routing is github.com/go-chi/chi/v5,
// the same router the pack's other HTTP-fronted service
// (squat-collective-rat's platform API) mounts its routes with, and the
// error envelope below follows that same file's errorJSON/writeJSON
// split rather than inventing a new response shape.
package controlsurface

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cametumbling/siteaudit/internal/config"
	"github.com/cametumbling/siteaudit/internal/eventbus"
	"github.com/cametumbling/siteaudit/internal/run"
)

const serviceName = "siteaudit"

// Version is overridable at link time (-ldflags -X); left as a constant
// default for local builds.
var Version = "dev"

var features = []string{
	"sitemap-discovery",
	"performance",
	"accessibility",
	"seo",
	"contentWeight",
	"mobile",
	"screenshots",
}

type runState struct {
	status  string // "started" | "completed"
	summary *run.RunSummary
}

// Server holds the process-wide state the control surface exposes:
// which runs are active, and the event bus every WebSocket client
// subscribes to.
type Server struct {
	launcher Launcher
	bus      *eventbus.Bus
	log      *zap.Logger
	defaults config.Configuration

	mu   sync.Mutex
	runs map[string]*runState
}

// New builds a Server. defaults seeds every POST /audit request before the
// request body is decoded onto it (spec.md §3's per-field defaults plus
// whatever cmd/siteaudit resolved from its config file and environment,
// e.g. OUTPUT_DIR) — a request only needs to name the fields it wants to
// override.
func New(launcher Launcher, bus *eventbus.Bus, log *zap.Logger, defaults config.Configuration) *Server {
	return &Server{launcher: launcher, bus: bus, log: log, defaults: defaults, runs: make(map[string]*runState)}
}

// Router assembles the route table (spec.md §4.8, §6).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/audit", s.handleAudit)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/runs/{runId}", s.handleGetRun)
	r.Get("/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	cfg := s.defaults.Clone()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		errorJSON(w, http.StatusBadRequest, "INVALID_REQUEST", "request body is not valid JSON", err.Error())
		return
	}

	if err := cfg.Validate(); err != nil {
		code, details := classifyConfigError(err.Error())
		errorJSON(w, http.StatusBadRequest, code, "invalid configuration", details)
		return
	}

	runID := run.NewID(time.Now())
	s.trackStarted(runID)

	if err := s.launcher.Launch(r.Context(), runID, cfg, func(summary run.RunSummary) {
		s.trackFinished(runID, summary)
	}); err != nil {
		s.trackFailed(runID)
		if s.log != nil {
			s.log.Error("failed to launch run", zap.String("runId", runID), zap.Error(err))
		}
		errorJSON(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to launch run", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":         runID,
		"status":        "started",
		"sitemapUrl":    cfg.SitemapURL,
		"configuration": cfg,
		"timestamp":     time.Now().UTC(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"timestamp":  time.Now().UTC(),
		"activeRuns": s.activeRuns(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    serviceName,
		"version":    Version,
		"features":   features,
		"activeRuns": s.activeRuns(),
		"timestamp":  time.Now().UTC(),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")

	s.mu.Lock()
	st, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		errorJSON(w, http.StatusNotFound, "NOT_FOUND", "no such run", runID)
		return
	}
	if st.summary == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runId": runID, "status": st.status})
		return
	}
	writeJSON(w, http.StatusOK, st.summary)
}

func (s *Server) trackStarted(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID] = &runState{status: "started"}
}

func (s *Server) trackFailed(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}

func (s *Server) trackFinished(runID string, summary run.RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.runs[runID]
	if !ok {
		st = &runState{}
		s.runs[runID] = st
	}
	st.status = "completed"
	st.summary = &summary
}

func (s *Server) activeRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.runs {
		if st.status == "started" {
			n++
		}
	}
	return n
}

// classifyConfigError splits config.Validate's joined problem string into
// one of the two 400 codes spec.md §6 names. A malformed include/exclude
// regex is INVALID_SITEMAP (it only ever surfaces while resolving which
// sitemap URLs survive); everything else about the request shape is
// INVALID_REQUEST.
func classifyConfigError(details string) (code string, out string) {
	if strings.Contains(details, "Pattern") {
		return "INVALID_SITEMAP", details
	}
	return "INVALID_REQUEST", details
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorJSON(w http.ResponseWriter, status int, code, message, details string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
