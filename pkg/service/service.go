package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/factorykit/linewatch/pkg/config"
	"github.com/factorykit/linewatch/pkg/plc"
	"github.com/factorykit/linewatch/pkg/production"
)

// shutdownLockWait bounds the lock acquisition during teardown so a
// hung worker cannot stall process exit.
const shutdownLockWait = 5 * time.Second

// ErrPLCDisabled is returned by PLC-only operations when USE_PLC is off.
var ErrPLCDisabled = errors.New("service: PLC disabled")

// Transport is the slice of the PLC client the service drives.
type Transport interface {
	plc.Reader
	Connected() bool
	Disconnect() bool
}

// Clock abstracts time for deadline handling. clockz.RealClock is the
// production implementation; tests install fakes.
type Clock interface {
	Now() time.Time
	WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc)
}

// Status is the introspection record served by /api/status.
type Status struct {
	PLCConnected bool       `json:"plc_connected"`
	UsePLC       bool       `json:"use_plc"`
	LineName     string     `json:"line_name"`
	LastUpdate   *time.Time `json:"last_update"`
}

// Service mediates all PLC access for the API process. One instance per
// process, created at start and shut down at exit.
type Service struct {
	cfg     config.Service
	log     *zap.Logger
	clock   Clock
	fetcher *plc.Fetcher
	master  *production.Master
	kill    func() error
	rng     *rand.Rand

	// access is the serialization lock; slot is the single executor
	// worker. Both are 1-capacity channels so acquisition can be
	// bounded by a deadline.
	access chan struct{}
	slot   chan struct{}

	mu         sync.Mutex
	client     Transport
	failures   int
	lastUpdate time.Time

	termOnce sync.Once
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the clock.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithKill replaces the self-termination signal. Tests only.
func WithKill(fn func() error) Option { return func(s *Service) { s.kill = fn } }

// WithRandSeed seeds the disabled-mode generator deterministically.
func WithRandSeed(seed int64) Option {
	return func(s *Service) { s.rng = rand.New(rand.NewSource(seed)) }
}

// New wires the service. client may be nil when cfg.UsePLC is false.
func New(cfg config.Service, master *production.Master, client Transport, fetcher *plc.Fetcher, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		log:     log,
		clock:   clockz.RealClock,
		fetcher: fetcher,
		master:  master,
		client:  client,
		access:  make(chan struct{}, 1),
		slot:    make(chan struct{}, 1),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		kill: func() error {
			return syscall.Kill(os.Getpid(), syscall.SIGTERM)
		},
	}
	for _, o := range opts {
		o(s)
	}
	log.Info("PLC service initialized",
		zap.Bool("use_plc", cfg.UsePLC),
		zap.Duration("fetch_timeout", cfg.FetchTimeout),
		zap.Int("failure_limit", cfg.FailureLimit))
	return s
}

// ProductionData assembles one snapshot. With the PLC enabled the fetch
// runs on the bounded executor; a round the transport could not serve
// still yields a defaults-filled snapshot (and counts a failure), while
// an executor timeout is surfaced to the caller.
func (s *Service) ProductionData() (production.Snapshot, error) {
	s.access <- struct{}{}
	defer func() { <-s.access }()

	s.mu.Lock()
	s.lastUpdate = s.clock.Now()
	client := s.client
	s.mu.Unlock()

	if !s.cfg.UsePLC || client == nil {
		return s.generateSnapshot(), nil
	}

	snap, err := runBounded(s, s.cfg.FetchTimeout, func() (production.Snapshot, error) {
		return s.fetcher.Snapshot(client)
	})
	if err != nil {
		s.recordFailure("production fetch", err)
		if errors.Is(err, plc.ErrTimeout) {
			return production.Snapshot{}, err
		}
		// Transport-unusable round: the defaults-filled snapshot still
		// serves the dashboard.
		return snap, nil
	}
	s.resetFailures()
	return snap, nil
}

// PLCTimestamp reads the PLC clock, strictly: decode failures are
// errors here, unlike the snapshot path where the system clock fills in.
func (s *Service) PLCTimestamp() (time.Time, error) {
	s.access <- struct{}{}
	defer func() { <-s.access }()

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if !s.cfg.UsePLC || client == nil {
		return time.Time{}, ErrPLCDisabled
	}
	clockDevice := s.fetcher.ClockDevice()
	if clockDevice == "" {
		return time.Time{}, fmt.Errorf("service: no clock device configured")
	}

	ts, err := runBounded(s, s.cfg.FetchTimeout, func() (time.Time, error) {
		words, err := client.ReadWords(clockDevice, 3)
		if err != nil {
			return time.Time{}, err
		}
		return plc.DecodeBCDTimestamp(words)
	})
	if err != nil {
		s.recordFailure("plc timestamp", err)
		return time.Time{}, err
	}
	s.resetFailures()
	return ts, nil
}

// Ping is the cheap liveness read behind /ready: one word from an
// always-valid register under the shorter ping deadline.
func (s *Service) Ping() error {
	s.access <- struct{}{}
	defer func() { <-s.access }()

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if !s.cfg.UsePLC || client == nil {
		return ErrPLCDisabled
	}

	_, err := runBounded(s, s.cfg.PingTimeout, func() (struct{}, error) {
		_, err := client.ReadWords(plc.HealthDevice, 1)
		return struct{}{}, err
	})
	if err != nil {
		s.recordFailure("plc ping", err)
		return err
	}
	s.resetFailures()
	return nil
}

// ExecutorPing verifies the worker can still run anything at all within
// the deadline. Used by the readiness probe's thread_pool_ok field; it
// bypasses the access lock on purpose so a request stuck on the socket
// does not mask a healthy executor check, and does not touch counters.
func (s *Service) ExecutorPing(timeout time.Duration) bool {
	_, err := runBounded(s, timeout, func() (struct{}, error) {
		return struct{}{}, nil
	})
	return err == nil
}

// Ready reports whether the service finished initialization.
func (s *Service) Ready() bool {
	return s.master != nil
}

// Status returns the introspection record. No transport traffic.
func (s *Service) Status() Status {
	s.access <- struct{}{}
	defer func() { <-s.access }()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		UsePLC:   s.cfg.UsePLC,
		LineName: s.cfg.LineName,
	}
	if s.cfg.UsePLC && s.client != nil {
		st.PLCConnected = s.client.Connected()
	}
	if !s.lastUpdate.IsZero() {
		t := s.lastUpdate
		st.LastUpdate = &t
	}
	return st
}

// ConsecutiveFailures exposes the failure counter for tests and status
// logging.
func (s *Service) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Shutdown disconnects the transport, waiting at most five seconds for
// the access lock. On timeout the client reference is cleared anyway —
// teardown must not hang behind a stuck worker.
func (s *Service) Shutdown() {
	ctx, cancel := s.clock.WithTimeout(context.Background(), shutdownLockWait)
	defer cancel()

	locked := false
	select {
	case s.access <- struct{}{}:
		locked = true
	case <-ctx.Done():
		s.log.Warn("could not acquire service lock for shutdown, clearing client anyway")
	}
	if locked {
		defer func() { <-s.access }()
	}

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil && client.Connected() {
		client.Disconnect()
		s.log.Info("PLC connection closed")
	}
}

// runBounded executes fn on the single worker, bounded by timeout. An
// abandoned worker keeps its slot until fn returns, so while a transport
// call hangs, later calls wait for the slot up to their own deadline and
// then fail with ErrTimeout instead of stacking workers.
func runBounded[T any](s *Service, timeout time.Duration, fn func() (T, error)) (T, error) {
	var zero T

	ctx, cancel := s.clock.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: executor busy", plc.ErrTimeout)
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() { <-s.slot }()
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: deadline exceeded after %s", plc.ErrTimeout, timeout)
	}
}

func (s *Service) recordFailure(op string, err error) {
	s.mu.Lock()
	s.failures++
	failures := s.failures
	s.mu.Unlock()

	metricFailures.Set(float64(failures))
	s.log.Warn("PLC operation failed",
		zap.String("op", op),
		zap.Int("consecutive_failures", failures),
		zap.Int("limit", s.cfg.FailureLimit),
		zap.Error(err))

	if failures >= s.cfg.FailureLimit {
		s.termOnce.Do(func() {
			metricSelfTerminations.Inc()
			s.log.Error("PLC failure limit reached, terminating for supervisor restart",
				zap.Int("consecutive_failures", failures))

			// The caller already holds the access lock; disconnect
			// directly instead of going through Shutdown.
			s.mu.Lock()
			client := s.client
			s.client = nil
			s.mu.Unlock()
			if client != nil && client.Connected() {
				client.Disconnect()
			}
			if err := s.kill(); err != nil {
				s.log.Error("failed to signal own process", zap.Error(err))
			}
		})
	}
}

func (s *Service) resetFailures() {
	s.mu.Lock()
	changed := s.failures != 0
	s.failures = 0
	s.mu.Unlock()
	if changed {
		metricFailures.Set(0)
	}
}
