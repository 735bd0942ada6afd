// Package api exposes the PLC service over a small HTTP surface: the
// liveness and readiness probes the watchdog drives, the snapshot and
// status endpoints the dashboard polls, and the shutdown/restart/time
// sync controls. Every handler is a thin adapter — the whole failure
// surface is what the service reports.
package api

import (
	"context"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/factorykit/linewatch/pkg/config"
	"github.com/factorykit/linewatch/pkg/production"
	"github.com/factorykit/linewatch/pkg/service"
)

const (
	// readyExecutorTimeout bounds the readiness probe's executor check.
	readyExecutorTimeout = 1 * time.Second

	// termDelay is how long shutdown/restart handlers wait before
	// signaling the process, so the response gets out first.
	termDelay = 500 * time.Millisecond

	shutdownGrace = 5 * time.Second
)

// PLCService is the slice of the service layer the handlers use.
type PLCService interface {
	ProductionData() (production.Snapshot, error)
	PLCTimestamp() (time.Time, error)
	Ping() error
	ExecutorPing(timeout time.Duration) bool
	Ready() bool
	Status() service.Status
	Shutdown()
}

// Server is the API process's HTTP front.
type Server struct {
	svc      PLCService
	cfg      config.API
	log      *zap.Logger
	kill     func() error
	setClock func(time.Time) error
	delay    func(time.Duration, func())
}

// Option configures a Server.
type Option func(*Server)

// WithKill replaces the self-termination signal. Tests only.
func WithKill(fn func() error) Option { return func(s *Server) { s.kill = fn } }

// WithSetClock replaces the system-clock setter. Tests only.
func WithSetClock(fn func(time.Time) error) Option { return func(s *Server) { s.setClock = fn } }

// WithDelay replaces the deferred-signal scheduler. Tests only.
func WithDelay(fn func(time.Duration, func())) Option { return func(s *Server) { s.delay = fn } }

// NewServer wires the handlers.
func NewServer(svc PLCService, cfg config.API, log *zap.Logger, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		cfg:      cfg,
		log:      log,
		setClock: setSystemClock,
		kill: func() error {
			return syscall.Kill(os.Getpid(), syscall.SIGTERM)
		},
		delay: func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the handler mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /api/production", s.handleProduction)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/shutdown", s.handleShutdown)
	mux.HandleFunc("POST /api/restart", s.handleRestart)
	mux.HandleFunc("POST /api/system/sync-time", s.handleSyncTime)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is done, then drains with a bounded grace and
// shuts the PLC service down. A bind failure returns immediately so the
// caller can exit non-zero.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("API server listening", zap.String("addr", s.cfg.Addr()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("API server shutting down")
	sdCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		s.log.Warn("HTTP drain incomplete", zap.Error(err))
	}
	s.svc.Shutdown()
	s.log.Info("API server stopped")
	return nil
}
