// Package statusserver exposes the agent's liveness/readiness/state HTTP
// surface (§4.9) on a listener independent of the tick loop.
package statusserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"treasuryagent/internal/store"
	"treasuryagent/pkg/scheduler"
)

// Server serves the status/control HTTP surface. All state it reads is a
// snapshot copy — it never locks the Scheduler's own counters directly.
type Server struct {
	token            string
	staleSeconds     int64
	schedulerStatus  func() scheduler.Status
	operator         *scheduler.OperatorState
	state            *store.Store
	metrics          *serverMetrics
}

// serverMetrics mirrors the scheduler's own counters as gauges, refreshed
// from a Status snapshot on every /metrics scrape rather than incremented
// independently — the scheduler is the single source of truth for these
// counts.
type serverMetrics struct {
	registry      *prometheus.Registry
	ticksTotal    prometheus.Gauge
	ticksFailed   prometheus.Gauge
	lastTickEpoch prometheus.Gauge
}

// newServerMetrics registers into a registry scoped to this Server instance
// rather than prometheus's global default, so tests can construct more
// than one Server without a duplicate-registration panic.
func newServerMetrics() *serverMetrics {
	registry := prometheus.NewRegistry()
	m := &serverMetrics{
		registry: registry,
		ticksTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "treasuryagent",
			Name:      "ticks_total",
			Help:      "Total scheduler ticks started.",
		}),
		ticksFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "treasuryagent",
			Name:      "ticks_failed_total",
			Help:      "Total scheduler ticks that returned an error.",
		}),
		lastTickEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "treasuryagent",
			Name:      "last_successful_tick_unix",
			Help:      "Unix timestamp of the last successful tick.",
		}),
	}
	registry.MustRegister(m.ticksTotal, m.ticksFailed, m.lastTickEpoch)
	return m
}

// New constructs a Server. token may be empty, disabling auth on /state and
// /controls/*; staleSeconds gates the liveness predicate.
func New(token string, staleSeconds int64, schedulerStatus func() scheduler.Status, operator *scheduler.OperatorState, state *store.Store) *Server {
	return &Server{
		token:           token,
		staleSeconds:    staleSeconds,
		schedulerStatus: schedulerStatus,
		operator:        operator,
		state:           state,
		metrics:         newServerMetrics(),
	}
}

// Router builds the chi mux.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/metrics", s.handleMetrics)

	r.Group(func(auth chi.Router) {
		auth.Use(s.authMiddleware)
		auth.Get("/state", s.handleState)
		auth.Get("/controls", s.handleControlsGet)
		auth.Post("/controls/pause", s.handleControlPause)
		auth.Post("/controls/resume", s.handleControlResume)
		auth.Post("/controls/exit", s.handleControlExit)
		auth.Post("/controls/rotate", s.handleControlRotate)
	})
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Bot-Status-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type livenessResult struct {
	healthy bool
	ready   bool
	reason  string
}

// liveness implements §4.9's four-branch predicate exactly.
func (s *Server) liveness() livenessResult {
	now := time.Now().Unix()
	staleMs := s.staleSeconds
	st := s.schedulerStatus()

	if st.TotalTicks == 0 {
		if now-st.StartedAt <= staleMs {
			return livenessResult{healthy: true, ready: false, reason: "starting"}
		}
		return livenessResult{healthy: false, ready: false, reason: "tick_not_started"}
	}
	if st.InFlight {
		healthy := now-st.LastTickStartedAt <= staleMs
		reason := "tick_in_progress"
		if !healthy {
			reason = "tick_stuck"
		}
		return livenessResult{healthy: healthy, ready: st.SuccessfulTicks > 0, reason: reason}
	}
	if st.SuccessfulTicks == 0 {
		lastActivity := st.LastTickFinishedAt
		if lastActivity == 0 {
			lastActivity = st.LastTickStartedAt
		}
		healthy := now-lastActivity <= staleMs
		return livenessResult{healthy: healthy, ready: false, reason: "no_successful_tick"}
	}
	healthy := now-st.LastSuccessfulTickAt <= staleMs
	reason := "ok"
	if !healthy {
		reason = "heartbeat_stale"
	}
	return livenessResult{healthy: healthy, ready: true, reason: reason}
}

// handleMetrics refreshes the gauges from the scheduler's latest snapshot
// just before serving, since nothing else calls the counters directly.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	st := s.schedulerStatus()
	s.metrics.ticksTotal.Set(float64(st.TotalTicks))
	s.metrics.ticksFailed.Set(float64(st.FailedTicks))
	s.metrics.lastTickEpoch.Set(float64(st.LastSuccessfulTickAt))
	promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	lv := s.liveness()
	status := http.StatusOK
	if !lv.healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"healthy": lv.healthy, "reason": lv.reason})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	lv := s.liveness()
	status := http.StatusOK
	if !lv.ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": lv.ready, "reason": lv.reason})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"runtime":   s.schedulerStatus(),
		"position":  s.state.Position(),
		"snapshots": s.state.Snapshots(),
		"decisions": s.state.RecentDecisions(),
	})
}

func (s *Server) handleControlsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.operator.Snapshot())
}

func (s *Server) handleControlPause(w http.ResponseWriter, r *http.Request) {
	s.operator.SetPaused(true)
	writeJSON(w, http.StatusOK, s.operator.Snapshot())
}

func (s *Server) handleControlResume(w http.ResponseWriter, r *http.Request) {
	s.operator.SetPaused(false)
	writeJSON(w, http.StatusOK, s.operator.Snapshot())
}

func (s *Server) handleControlExit(w http.ResponseWriter, r *http.Request) {
	s.operator.Enqueue("exit", nil)
	writeJSON(w, http.StatusOK, s.operator.Snapshot())
}

type rotateRequest struct {
	PoolID string `json:"poolId"`
}

func (s *Server) handleControlRotate(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.PoolID) == "" {
		http.Error(w, "poolId is required", http.StatusBadRequest)
		return
	}
	s.operator.Enqueue("rotate", &req.PoolID)
	writeJSON(w, http.StatusOK, s.operator.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
