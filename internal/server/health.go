package server

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/adrag/adrag/internal/index"
)

// HealthStatus is the state of one component or of the whole process.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the result of probing one component.
type HealthCheck struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HealthChecker probes one component.
type HealthChecker func(ctx context.Context) HealthCheck

type healthReport struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
	Checks    []HealthCheck `json:"checks,omitempty"`
}

// HealthServer serves the operational probes, separate from the query API so
// orchestrators can reach them while the API is saturated. Readiness starts
// false and is flipped once the pipeline is assembled.
type HealthServer struct {
	mu      sync.RWMutex
	checks  map[string]HealthChecker
	version string
	ready   bool
}

// NewHealthServer creates a HealthServer reporting the given version.
func NewHealthServer(version string) *HealthServer {
	return &HealthServer{checks: make(map[string]HealthChecker), version: version}
}

// RegisterCheck adds a named component probe to the /health report.
func (s *HealthServer) RegisterCheck(name string, check HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// SetReady flips the readiness probe.
func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// Handler returns the probe routes.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe serves the probes until ctx is cancelled.
func (s *HealthServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthReport{Status: HealthHealthy, Timestamp: time.Now().UTC()})
}

func (s *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	report := healthReport{Status: HealthHealthy, Timestamp: time.Now().UTC()}
	if !ready {
		report.Status = HealthUnhealthy
		writeJSON(w, http.StatusServiceUnavailable, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleHealth runs every registered probe. An unhealthy component makes the
// whole report unhealthy (503); a degraded one downgrades it but keeps 200.
func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]HealthChecker, len(names))
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	version := s.version
	s.mu.RUnlock()

	report := healthReport{
		Status:    HealthHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    make([]HealthCheck, 0, len(checks)),
	}
	for i, check := range checks {
		result := check(ctx)
		result.Name = names[i]
		report.Checks = append(report.Checks, result)

		switch result.Status {
		case HealthUnhealthy:
			report.Status = HealthUnhealthy
		case HealthDegraded:
			if report.Status == HealthHealthy {
				report.Status = HealthDegraded
			}
		}
	}

	status := http.StatusOK
	if report.Status == HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// IndexHealthChecker probes the loaded index artifact set.
func IndexHealthChecker(store *index.Store) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if store == nil || !store.Loaded() {
			return HealthCheck{Status: HealthUnhealthy, Message: "index not loaded"}
		}
		return HealthCheck{
			Status:  HealthHealthy,
			Message: "index loaded",
			Details: map[string]string{"rows": strconv.Itoa(store.Len())},
		}
	}
}

// TemporalHealthChecker probes Temporal server connectivity.
func TemporalHealthChecker(ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if err := ping(ctx); err != nil {
			return HealthCheck{Status: HealthUnhealthy, Message: "temporal unreachable: " + err.Error()}
		}
		return HealthCheck{Status: HealthHealthy, Message: "temporal reachable"}
	}
}

// MirrorHealthChecker probes the vector store mirror. The mirror is
// best-effort, so a failing probe only degrades the report.
func MirrorHealthChecker(ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) HealthCheck {
		if err := ping(ctx); err != nil {
			return HealthCheck{Status: HealthDegraded, Message: "mirror unavailable: " + err.Error()}
		}
		return HealthCheck{Status: HealthHealthy, Message: "mirror reachable"}
	}
}
