package proxy

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/dicombridge/dicombridge/pkg/api/v1"
	"github.com/dicombridge/dicombridge/pkg/audit"
	"github.com/dicombridge/dicombridge/pkg/config"
	"github.com/dicombridge/dicombridge/pkg/logger"
	"github.com/dicombridge/dicombridge/pkg/ratelimit"
	"github.com/dicombridge/dicombridge/pkg/telemetry"
	"github.com/dicombridge/dicombridge/pkg/tokens"
)

// readHeaderTimeout bounds header reads to prevent Slowloris attacks.
const readHeaderTimeout = 10 * time.Second

// shutdownTimeout bounds graceful drain on Stop.
const shutdownTimeout = 30 * time.Second

// Server is the broker's HTTP front: admin API, proxy paths, health and
// metrics endpoints on one listener.
type Server struct {
	host string
	port int

	handler  http.Handler
	server   *http.Server
	listener net.Listener

	mutex      sync.Mutex
	stopped    bool
	shutdownCh chan struct{}
}

// NewServer assembles the full router. The rate limiter guards the proxy
// paths and the admin connectivity test; health and metrics stay unmetered.
func NewServer(
	host string,
	port int,
	cfg *config.Config,
	registry *tokens.Registry,
	forwarder *Forwarder,
	limiter *ratelimit.Limiter,
	metrics *telemetry.Metrics,
	auditor *audit.Auditor,
) *Server {
	rateLimit := ratelimit.Middleware(limiter, auditor, metrics)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if cfg.EnableMetrics && metrics != nil {
		r.Handle("/metrics", metrics.Handler())
		logger.Info("Prometheus metrics endpoint enabled at /metrics")
	}

	r.Mount("/dicomweb-oauth", v1.AdminRouter(registry, auditor, rateLimit))
	r.Mount("/oauth-dicom-web", rateLimit(forwarder.Router()))

	return &Server{
		host:       host,
		port:       port,
		handler:    r,
		shutdownCh: make(chan struct{}),
	}
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	server := s.server
	go func() {
		err := server.Serve(ln)
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			var opErr *net.OpError
			if stderrors.As(err, &opErr) && opErr.Op == "accept" {
				// Listener closed during shutdown.
				return
			}
			logger.Errorf("Proxy server error: %v", err)
		}
	}()

	logger.Infow("Proxy server started", "address", addr)
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests and shuts the server down. Idempotent.
func (s *Server) Stop(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.shutdownCh)

	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down proxy server: %w", err)
	}
	logger.Info("Proxy server stopped")
	return nil
}
