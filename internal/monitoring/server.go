// internal/monitoring/server.go
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/valpere/ecomscrapexter/internal/utils"
)

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

// StatsFunc returns a JSON-serializable snapshot of crawl progress.
type StatsFunc func() interface{}

// Server exposes metrics, health and crawl stats over HTTP.
type Server struct {
	metrics *Metrics
	stats   StatsFunc
	logger  *slog.Logger
	started time.Time

	mu     sync.RWMutex
	checks map[string]HealthCheck

	srv *http.Server
}

// NewServer wires the routes. stats may be nil.
func NewServer(address string, metrics *Metrics, stats StatsFunc, logger *slog.Logger) *Server {
	s := &Server{
		metrics: metrics,
		stats:   stats,
		logger:  utils.Component(logger, "monitoring"),
		started: time.Now(),
		checks:  make(map[string]HealthCheck),
	}
	s.srv = &http.Server{
		Addr:              address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// RegisterCheck adds a named health check.
func (s *Server) RegisterCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	return r
}

type healthReport struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.mu.RLock()
	checks := make(map[string]HealthCheck, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.RUnlock()

	report := healthReport{Status: "healthy", Uptime: time.Since(s.started).Round(time.Second).String()}
	code := http.StatusOK
	if len(checks) > 0 {
		report.Checks = make(map[string]string, len(checks))
	}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			report.Checks[name] = err.Error()
			report.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		report.Checks[name] = "ok"
	}
	writeJSON(w, code, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.stats())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("monitoring server listening", "address", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
