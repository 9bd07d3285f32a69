package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dittomds/internal/logger"
)

const (
	// healthCheckTimeout bounds one run of all health checks
	healthCheckTimeout = 2 * time.Second

	// shutdownTimeout bounds the drain when Start's context ends
	shutdownTimeout = 5 * time.Second
)

// HealthCheck reports whether one component of the service works. A nil
// error means healthy.
type HealthCheck func(ctx context.Context) error

// Server is the operator HTTP endpoint of the service:
//   - GET /metrics: Prometheus metrics, or 503 when collection is disabled
//   - GET /healthz: runs every registered HealthCheck and answers 200 when
//     all pass, 503 with the failing checks otherwise
type Server struct {
	server *http.Server
	port   int

	mu     sync.RWMutex
	checks map[string]HealthCheck

	shutdownOnce sync.Once
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on for HTTP requests.
	// Default: 9090
	Port int
}

// NewServer creates a stopped metrics server. Health checks can be added
// before or after Start.
func NewServer(config ServerConfig) *Server {
	if config.Port <= 0 {
		config.Port = 9090
	}

	s := &Server{
		port:   config.Port,
		checks: make(map[string]HealthCheck),
	}

	mux := http.NewServeMux()
	if reg := GetRegistry(); IsEnabled() && reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	mux.HandleFunc("/healthz", s.serveHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// AddHealthCheck registers check under name, replacing any check already
// registered under that name.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Check runs every health check and returns the failures by name.
func (s *Server) Check(ctx context.Context) map[string]error {
	s.mu.RLock()
	checks := make(map[string]HealthCheck, len(s.checks))
	for name, c := range s.checks {
		checks[name] = c
	}
	s.mu.RUnlock()

	failed := make(map[string]error)
	for name, c := range checks {
		if err := c(ctx); err != nil {
			failed[name] = err
		}
	}
	return failed
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	failed := s.Check(ctx)
	w.Header().Set("Content-Type", "text/plain")
	if len(failed) == 0 {
		_, _ = fmt.Fprintln(w, "ok")
		return
	}

	names := make([]string, 0, len(failed))
	for name := range failed {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %v\n", name, failed[name])
	}
	logger.Debug("Health check failed: %s", strings.TrimSpace(b.String()))

	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = fmt.Fprint(w, b.String())
}

// Start serves until ctx is cancelled, then shuts down gracefully. It
// returns nil after a clean shutdown and an error when the port cannot be
// bound or serving fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	logger.Info("Metrics server listening on %s", ln.Addr())

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.Stop(shutdownCtx)
	})
	defer stop()

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if err = s.server.Shutdown(ctx); err != nil {
			logger.Error("Metrics server shutdown error: %v", err)
			err = fmt.Errorf("metrics server shutdown: %w", err)
			return
		}
		logger.Debug("Metrics server stopped")
	})
	return err
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the HTTP handler serving the endpoints.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
