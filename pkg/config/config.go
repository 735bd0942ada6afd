// Package config loads the process configuration from environment
// variables. Every numeric knob has a default and a documented range;
// out-of-range values are clamped rather than rejected so that a typo
// in a kiosk's environment file degrades instead of preventing boot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PLC is the transport-endpoint and reconnect-policy configuration.
type PLC struct {
	Host             string
	Port             int
	AutoReconnect    bool
	ReconnectRetry   int
	ReconnectDelay   time.Duration
	ReconnectRestart bool
	DebugDummyRead   bool
}

// Devices maps each snapshot field to its PLC device address. Empty
// addresses disable the field (the fetcher substitutes its default).
type Devices struct {
	Time           string
	ProductionType string
	Plan           string
	Actual         string
	AlarmFlag      string
	AlarmMsg       string
	InOperating    string
}

// Service configures the serialized PLC service.
type Service struct {
	UsePLC       bool
	LineName     string
	MasterDir    string
	FetchTimeout time.Duration
	PingTimeout  time.Duration
	FailureLimit int
}

// API configures the HTTP server.
type API struct {
	Host                 string
	Port                 int
	AllowFrontendRestart bool
}

// Watchdog configures the supervisor process.
type Watchdog struct {
	Interval                time.Duration
	FailureLimit            int
	RestartCooldown         time.Duration
	StartupGrace            time.Duration
	BackoffMax              time.Duration
	APIStartupTimeout       time.Duration
	APIStartupCheckInterval time.Duration
	ReadyCheckInterval      time.Duration
}

// Settings is the full configuration surface of the process tree.
type Settings struct {
	PLC      PLC
	Devices  Devices
	Service  Service
	API      API
	Watchdog Watchdog

	// PresentationCmd is the dashboard command line the launcher spawns
	// alongside the watchdog; empty disables it.
	PresentationCmd []string

	LogLevel string
}

// Load reads every setting from the environment. log may be nil during
// early startup; clamp warnings are dropped in that case.
func Load(log *zap.Logger) Settings {
	e := env{log: log}

	s := Settings{
		PLC: PLC{
			Host:             e.str("PLC_IP", "127.0.0.1"),
			Port:             e.num("PLC_PORT", 5007, 1, 65535),
			AutoReconnect:    e.flag("AUTO_RECONNECT", true),
			ReconnectRetry:   e.num("RECONNECT_RETRY", 3, 0, 10),
			ReconnectDelay:   e.secs("RECONNECT_DELAY", 5, 0, 60),
			ReconnectRestart: e.flag("RECONNECT_RESTART", false),
			DebugDummyRead:   e.flag("DEBUG_DUMMY_READ", false),
		},
		Devices: Devices{
			Time:           e.str("TIME_DEVICE", "SD210"),
			ProductionType: e.str("PRODUCTION_TYPE_DEVICE", ""),
			Plan:           e.str("PLAN_DEVICE", ""),
			Actual:         e.str("ACTUAL_DEVICE", ""),
			AlarmFlag:      e.str("ALARM_FLAG_DEVICE", ""),
			AlarmMsg:       e.str("ALARM_MSG_DEVICE", ""),
			InOperating:    e.str("IN_OPERATING_DEVICE", ""),
		},
		Service: Service{
			UsePLC:       e.flag("USE_PLC", true),
			LineName:     e.str("LINE_NAME", "NONAME"),
			MasterDir:    e.str("MASTER_DIR", "masters"),
			FetchTimeout: e.secs("PLC_FETCH_TIMEOUT", 3, 1, 30),
			PingTimeout:  e.secs("PLC_PING_TIMEOUT", 2, 0.5, 10),
			FailureLimit: e.num("PLC_FETCH_FAILURE_LIMIT", 5, 1, 20),
		},
		API: API{
			Host:                 e.str("API_HOST", "127.0.0.1"),
			Port:                 e.num("API_PORT", 8000, 1, 65535),
			AllowFrontendRestart: e.flag("ALLOW_FRONTEND_RESTART", false),
		},
		Watchdog: Watchdog{
			Interval:                e.secs("WATCHDOG_INTERVAL", 10, 5, 60),
			FailureLimit:            e.num("WATCHDOG_FAILURE_LIMIT", 3, 1, 10),
			RestartCooldown:         e.secs("WATCHDOG_RESTART_COOLDOWN", 60, 30, 300),
			StartupGrace:            e.secs("WATCHDOG_STARTUP_GRACE", 60, 30, 180),
			BackoffMax:              e.secs("WATCHDOG_BACKOFF_MAX", 1800, 60, 86400),
			APIStartupTimeout:       e.secs("WATCHDOG_API_STARTUP_TIMEOUT", 15, 1, 300),
			APIStartupCheckInterval: e.secs("WATCHDOG_API_STARTUP_CHECK_INTERVAL", 1, 0.1, 60),
			ReadyCheckInterval:      e.secs("WATCHDOG_READY_CHECK_INTERVAL", 60, 0, 3600),
		},
		PresentationCmd: fields(os.Getenv("PRESENTATION_CMD")),
		LogLevel:        e.str("LOG_LEVEL", "INFO"),
	}
	return s
}

// BaseURL returns the probe endpoint root for the API server.
func (a API) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", a.Host, a.Port)
}

// Addr returns the HTTP bind address.
func (a API) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type env struct {
	log *zap.Logger
}

func (e env) warn(msg string, fields ...zap.Field) {
	if e.log != nil {
		e.log.Warn(msg, fields...)
	}
}

func (e env) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (e env) flag(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		e.warn("invalid boolean, using default", zap.String("key", key), zap.String("value", v), zap.Bool("default", def))
		return def
	}
	return b
}

func (e env) num(key string, def, min, max int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.warn("invalid integer, using default", zap.String("key", key), zap.String("value", v), zap.Int("default", def))
		return def
	}
	return e.clampInt(key, n, min, max)
}

// secs reads a duration expressed in (possibly fractional) seconds.
func (e env) secs(key string, def, min, max float64) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	sec := def
	if v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.warn("invalid seconds value, using default", zap.String("key", key), zap.String("value", v), zap.Float64("default", def))
			f = def
		}
		sec = f
	}
	if sec < min {
		e.warn("value below range, clamping", zap.String("key", key), zap.Float64("value", sec), zap.Float64("min", min))
		sec = min
	}
	if sec > max {
		e.warn("value above range, clamping", zap.String("key", key), zap.Float64("value", sec), zap.Float64("max", max))
		sec = max
	}
	return time.Duration(sec * float64(time.Second))
}

func (e env) clampInt(key string, n, min, max int) int {
	if n < min {
		e.warn("value below range, clamping", zap.String("key", key), zap.Int("value", n), zap.Int("min", min))
		return min
	}
	if n > max {
		e.warn("value above range, clamping", zap.String("key", key), zap.Int("value", n), zap.Int("max", max))
		return max
	}
	return n
}

func fields(v string) []string {
	f := strings.Fields(v)
	if len(f) == 0 {
		return nil
	}
	return f
}
