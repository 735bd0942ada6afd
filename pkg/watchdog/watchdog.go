package watchdog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/factorykit/linewatch/pkg/config"
)

const (
	// probeTimeout bounds one /health or /ready round trip.
	probeTimeout = 2 * time.Second

	// stopGrace is how long a SIGTERM'd child group gets before SIGKILL.
	stopGrace = 5 * time.Second

	// restartPause sits between stopping the old child and starting the
	// new one so the port and the PLC socket are really free.
	restartPause = 2 * time.Second
)

// ErrStartup is returned when the initial bring-up fails: the child
// died, never answered /health, or could not be spawned. The launcher
// maps it to exit code 1.
var ErrStartup = errors.New("watchdog: initial API startup failed")

// Clock is the monotonic time source for all restart timing.
// clockz.RealClock is the production implementation.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Child is a spawned API process group.
type Child interface {
	PID() int
	// Exited reports without blocking whether the process is gone.
	Exited() bool
	// Stop terminates the process group: SIGTERM, bounded wait, SIGKILL.
	Stop(log *zap.Logger, grace time.Duration)
}

// SpawnFunc starts a fresh API child as a session leader.
type SpawnFunc func() (Child, error)

type healthPayload struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

type readyPayload struct {
	Status          string `json:"status"`
	PID             int    `json:"pid"`
	ThreadPoolOK    bool   `json:"thread_pool_ok"`
	PLCServiceReady bool   `json:"plc_service_ready"`
	PLCAlive        bool   `json:"plc_alive"`
}

// Watchdog supervises one API child. All state is mutated from the
// monitoring loop only; there is no concurrent access to the counters.
type Watchdog struct {
	cfg   config.Watchdog
	api   config.API
	log   *zap.Logger
	clock Clock
	spawn SpawnFunc

	// probeHook and readyHook override the HTTP probes in tests.
	probeHook func() (healthPayload, error)
	readyHook func() (readyPayload, error)

	client *http.Client

	child               Child
	popenPID            int
	lastAPIPID          int
	consecutiveFailures int
	restartCount        int
	lastRestart         time.Time
	lastSuccess         time.Time
	lastReadyCheck      time.Time
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithClock replaces the clock.
func WithClock(c Clock) Option { return func(w *Watchdog) { w.clock = c } }

// WithSpawn replaces the child factory.
func WithSpawn(fn SpawnFunc) Option { return func(w *Watchdog) { w.spawn = fn } }

// New builds a watchdog that spawns command as its API child.
func New(cfg config.Watchdog, api config.API, command []string, log *zap.Logger, opts ...Option) *Watchdog {
	w := &Watchdog{
		cfg:   cfg,
		api:   api,
		log:   log,
		clock: clockz.RealClock,
	}
	w.spawn = func() (Child, error) { return spawnCommand(command) }
	for _, o := range opts {
		o(w)
	}
	log.Info("watchdog initialized",
		zap.Duration("interval", cfg.Interval),
		zap.Int("failure_limit", cfg.FailureLimit),
		zap.Duration("initial_cooldown", cfg.RestartCooldown),
		zap.Duration("backoff_max", cfg.BackoffMax),
		zap.Duration("api_startup_timeout", cfg.APIStartupTimeout))
	return w
}

// Run performs initial bring-up and then monitors until ctx is done.
// The monitoring loop itself never returns an error: every probe
// failure is absorbed into the counters.
func (w *Watchdog) Run(ctx context.Context) error {
	w.log.Info("watchdog starting")
	if !w.startAPIServer(ctx) {
		w.log.Error("initial API server startup failed")
		w.stopChild()
		w.closeClient()
		return ErrStartup
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watchdog shutting down")
			w.stopChild()
			w.closeClient()
			w.log.Info("watchdog stopped")
			return nil
		case <-w.clock.After(w.cfg.Interval):
			w.checkHealth()
			w.maybeCheckReady()
		}
	}
}

// checkHealth performs one liveness probe and updates the counters.
func (w *Watchdog) checkHealth() {
	payload, err := w.probeHealth()
	if err == nil {
		w.consecutiveFailures = 0
		w.restartCount = 0
		w.lastSuccess = w.clock.Now()
		metricFailureStreak.Set(0)

		if payload.PID != 0 {
			if w.lastAPIPID != 0 && payload.PID != w.lastAPIPID {
				// The worker PID can legitimately differ from the
				// spawned PID under multi-worker serving modes.
				w.log.Info("API worker PID changed",
					zap.Int("old_pid", w.lastAPIPID),
					zap.Int("new_pid", payload.PID),
					zap.Int("popen_pid", w.popenPID))
			}
			w.lastAPIPID = payload.PID
		}
		return
	}

	w.consecutiveFailures++
	metricProbeFailures.Inc()
	metricFailureStreak.Set(float64(w.consecutiveFailures))
	w.log.Warn("health check failed",
		zap.Int("consecutive_failures", w.consecutiveFailures),
		zap.Int("limit", w.cfg.FailureLimit),
		zap.Error(err))

	if w.consecutiveFailures >= w.cfg.FailureLimit {
		w.log.Error("API server unresponsive", zap.Int("consecutive_failures", w.consecutiveFailures))
		w.attemptRestart()
	}
}

// probeHealth hits /health. Whatever goes wrong — transport error,
// bad status, JSON garbage, a panic — comes back as an error; the
// watchdog itself must survive every probe.
func (w *Watchdog) probeHealth() (payload healthPayload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("watchdog: probe panic: %v", r)
		}
	}()

	if w.probeHook != nil {
		return w.probeHook()
	}

	resp, err := w.httpClient().Get(w.api.BaseURL() + "/health")
	if err != nil {
		return healthPayload{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return healthPayload{}, fmt.Errorf("watchdog: health status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return healthPayload{}, fmt.Errorf("watchdog: health decode: %w", err)
	}
	return payload, nil
}

// maybeCheckReady runs the periodic readiness probe. Purely
// informational: a degraded or unhealthy answer is logged and nothing
// else — readiness never drives restarts or touches the counters.
func (w *Watchdog) maybeCheckReady() {
	if w.cfg.ReadyCheckInterval <= 0 {
		return
	}
	now := w.clock.Now()
	if !w.lastReadyCheck.IsZero() && now.Sub(w.lastReadyCheck) < w.cfg.ReadyCheckInterval {
		return
	}
	w.lastReadyCheck = now

	payload, err := w.probeReady()
	if err != nil {
		w.log.Warn("readiness check failed", zap.Error(err))
		return
	}
	switch payload.Status {
	case "ok":
		w.log.Debug("readiness check ok", zap.Bool("plc_alive", payload.PLCAlive))
	default:
		w.log.Warn("readiness not ok",
			zap.String("status", payload.Status),
			zap.Bool("thread_pool_ok", payload.ThreadPoolOK),
			zap.Bool("plc_service_ready", payload.PLCServiceReady),
			zap.Bool("plc_alive", payload.PLCAlive))
	}
}

func (w *Watchdog) probeReady() (payload readyPayload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("watchdog: ready probe panic: %v", r)
		}
	}()

	if w.readyHook != nil {
		return w.readyHook()
	}

	resp, err := w.httpClient().Get(w.api.BaseURL() + "/ready")
	if err != nil {
		return readyPayload{}, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return readyPayload{}, fmt.Errorf("watchdog: ready decode: %w", err)
	}
	return payload, nil
}

// attemptRestart applies the grace window and the staged cooldown, then
// replaces the child. Counters are deliberately preserved: only a
// successful probe resets them.
func (w *Watchdog) attemptRestart() {
	now := w.clock.Now()
	cooldown := w.currentCooldown()

	if !w.lastRestart.IsZero() {
		elapsed := now.Sub(w.lastRestart)

		if elapsed < w.cfg.StartupGrace {
			w.log.Info("within startup grace period, waiting",
				zap.Duration("elapsed", elapsed),
				zap.Duration("grace", w.cfg.StartupGrace),
				zap.Int("failures", w.consecutiveFailures))
			return
		}
		if elapsed < cooldown {
			w.log.Warn("restart delayed by cooldown",
				zap.Duration("remaining", cooldown-elapsed),
				zap.Int("stage", w.restartCount),
				zap.Int("failures", w.consecutiveFailures))
			return
		}
	}

	w.log.Info("initiating API server restart",
		zap.Int("restart_count", w.restartCount),
		zap.Duration("cooldown", cooldown))
	w.lastRestart = now
	w.restartCount++
	metricRestarts.Inc()

	w.closeClient()
	w.stopChild()
	<-w.clock.After(restartPause)
	if !w.startAPIServer(context.Background()) {
		w.log.Error("API server restart failed")
	}
}

// currentCooldown returns the staged cooldown for the present restart
// count, capped by the configured backoff maximum.
func (w *Watchdog) currentCooldown() time.Duration {
	stages := []time.Duration{
		w.cfg.RestartCooldown,
		300 * time.Second,
		900 * time.Second,
		1800 * time.Second,
	}
	stage := w.restartCount
	if stage > len(stages)-1 {
		stage = len(stages) - 1
	}
	cooldown := stages[stage]
	if cooldown > w.cfg.BackoffMax {
		cooldown = w.cfg.BackoffMax
	}
	return cooldown
}

// startAPIServer spawns the child and polls /health until it answers
// or the startup timeout passes. A child that dies during startup
// fails the bring-up immediately.
func (w *Watchdog) startAPIServer(ctx context.Context) bool {
	w.log.Info("starting API server")

	child, err := w.spawn()
	if err != nil {
		w.log.Error("failed to start API server", zap.Error(err))
		return false
	}
	w.child = child
	w.popenPID = child.PID()
	w.log.Info("API server process started", zap.Int("popen_pid", w.popenPID))

	deadline := w.clock.Now().Add(w.cfg.APIStartupTimeout)
	for {
		if _, err := w.probeHealth(); err == nil {
			w.log.Info("API server is ready")
			w.consecutiveFailures = 0
			metricFailureStreak.Set(0)
			return true
		}
		if child.Exited() {
			w.log.Error("API server process died during startup")
			return false
		}
		if !w.clock.Now().Before(deadline) {
			w.log.Error("API server did not become ready in time",
				zap.Duration("timeout", w.cfg.APIStartupTimeout))
			w.stopChild()
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-w.clock.After(w.cfg.APIStartupCheckInterval):
		}
	}
}

func (w *Watchdog) stopChild() {
	if w.child == nil {
		return
	}
	w.child.Stop(w.log, stopGrace)
	w.child = nil
}

func (w *Watchdog) httpClient() *http.Client {
	if w.client == nil {
		w.client = &http.Client{Timeout: probeTimeout}
	}
	return w.client
}

// closeClient discards the probe client so the next probe dials fresh
// sockets. Called at every restart boundary.
func (w *Watchdog) closeClient() {
	if w.client != nil {
		w.client.CloseIdleConnections()
		w.client = nil
	}
}
