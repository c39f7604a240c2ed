package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
)

// ReadinessCheck returns a non-nil error while a dependency cannot serve.
type ReadinessCheck func(ctx context.Context) error

// HealthChecker serves the liveness and readiness probes of the HTTP
// transport. Readiness combines the manual ready flag, the shutdown state of
// the ServerContext and any checks added with AddCheck.
type HealthChecker struct {
	sc      *ServerContext
	started time.Time
	ready   atomic.Bool

	mu     sync.RWMutex
	checks map[string]ReadinessCheck
}

// NewHealthChecker returns a checker that reports ready. sc may be nil.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{
		sc:      sc,
		started: time.Now(),
		checks:  map[string]ReadinessCheck{},
	}
	if sc != nil {
		for name, check := range sc.readinessChecks() {
			h.checks[name] = check
		}
	}
	h.ready.Store(true)
	return h
}

func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }

func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

// AddCheck registers a named readiness check. A later check with the same
// name replaces the earlier one.
func (h *HealthChecker) AddCheck(name string, check ReadinessCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// HealthResponse is the body of /healthz and /readyz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse is the body of /healthz/detailed.
type DetailedHealthResponse struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	Backend        string `json:"backend,omitempty"`
	ReadOnly       bool   `json:"read_only"`
	ActiveSessions int    `json:"active_sessions"`
}

// evaluate runs every readiness check and returns the per-check results and
// the overall verdict.
func (h *HealthChecker) evaluate(ctx context.Context) (map[string]string, bool) {
	results := map[string]string{
		"ready":    healthStatusOK,
		"shutdown": healthStatusOK,
	}
	ok := true
	if !h.IsReady() {
		results["ready"] = healthStatusNotReady
		ok = false
	}
	if h.shuttingDown() {
		results["shutdown"] = healthStatusShuttingDown
		ok = false
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			ok = false
			continue
		}
		results[name] = healthStatusOK
	}
	h.mu.RUnlock()

	return results, ok
}

func (h *HealthChecker) shuttingDown() bool {
	return h.sc != nil && h.sc.IsShutdown()
}

func writeHealth(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// LivenessHandler answers 200 as long as the process can serve HTTP at all.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler answers 503 while any readiness check fails.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks, ok := h.evaluate(r.Context())
		if !ok {
			writeHealth(w, http.StatusServiceUnavailable, HealthResponse{Status: healthStatusNotReady, Checks: checks})
			return
		}
		writeHealth(w, http.StatusOK, HealthResponse{Status: healthStatusOK, Checks: checks})
	})
}

// DetailedHealthHandler adds the backend, mode and session count to the
// readiness verdict.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := DetailedHealthResponse{
			Status: healthStatusOK,
			Uptime: time.Since(h.started).Truncate(time.Second).String(),
		}
		if h.sc != nil {
			resp.Backend = h.sc.Dispatcher().Config().Backend
			resp.ReadOnly = h.sc.ReadOnly()
			resp.ActiveSessions = h.sc.Sessions().Len()
		}

		code := http.StatusOK
		if _, ok := h.evaluate(r.Context()); !ok {
			code = http.StatusServiceUnavailable
			resp.Status = healthStatusNotReady
			if h.shuttingDown() {
				resp.Status = healthStatusShuttingDown
			}
		}
		writeHealth(w, code, resp)
	})
}

// RegisterHealthEndpoints mounts /healthz, /readyz and /healthz/detailed.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}
