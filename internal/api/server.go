// Package api serves the janitor's health, metrics and sweep status over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bit2swaz/storage-janitor/internal/engine"
	"github.com/bit2swaz/storage-janitor/pkg/observability"
)

// StatusSource reports the sweeper's progress.
type StatusSource interface {
	State() engine.State
	LastStats() (engine.SweepStats, bool)
}

// Server exposes HTTP handlers for janitor monitoring.
type Server struct {
	status   StatusSource
	gatherer prometheus.Gatherer
	trigger  func() bool
	log      *zap.Logger
	started  time.Time
	router   chi.Router
}

type statusResponse struct {
	State     string             `json:"state"`
	Uptime    string             `json:"uptime"`
	LastSweep *engine.SweepStats `json:"last_sweep,omitempty"`
}

// NewServer constructs a new Server instance. trigger starts an immediate
// sweep and reports false when one is already running; it may be nil.
func NewServer(status StatusSource, gatherer prometheus.Gatherer, trigger func() bool, log *zap.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = zap.NewNop()
	}

	srv := &Server{
		status:   status,
		gatherer: gatherer,
		trigger:  trigger,
		log:      log,
		started:  time.Now(),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(observability.MetricsMiddleware)

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"up"}`))
	})
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Get("/status", srv.HandleStatus)
	router.Post("/sweep", srv.HandleTrigger)

	srv.router = router
	return srv
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		State:  s.status.State().String(),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if last, ok := s.status.LastStats(); ok {
		resp.LastSweep = &last
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleTrigger(w http.ResponseWriter, _ *http.Request) {
	if s.trigger == nil {
		http.Error(w, "manual sweeps are disabled", http.StatusNotImplemented)
		return
	}
	if !s.trigger() {
		s.respondJSON(w, http.StatusConflict, map[string]string{"error": "sweep already running"})
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "sweep started"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode json response", zap.Error(err))
	}
}
