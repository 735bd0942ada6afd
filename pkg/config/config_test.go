package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	s := Load(nil)

	assert.Equal(t, "127.0.0.1", s.PLC.Host)
	assert.Equal(t, 5007, s.PLC.Port)
	assert.True(t, s.PLC.AutoReconnect)
	assert.Equal(t, 3, s.PLC.ReconnectRetry)
	assert.Equal(t, 5*time.Second, s.PLC.ReconnectDelay)
	assert.False(t, s.PLC.DebugDummyRead)

	assert.True(t, s.Service.UsePLC)
	assert.Equal(t, "NONAME", s.Service.LineName)
	assert.Equal(t, 3*time.Second, s.Service.FetchTimeout)
	assert.Equal(t, 2*time.Second, s.Service.PingTimeout)
	assert.Equal(t, 5, s.Service.FailureLimit)

	assert.Equal(t, 10*time.Second, s.Watchdog.Interval)
	assert.Equal(t, 3, s.Watchdog.FailureLimit)
	assert.Equal(t, 60*time.Second, s.Watchdog.RestartCooldown)
	assert.Equal(t, 60*time.Second, s.Watchdog.StartupGrace)
	assert.Equal(t, 1800*time.Second, s.Watchdog.BackoffMax)
	assert.Equal(t, 15*time.Second, s.Watchdog.APIStartupTimeout)
	assert.Equal(t, 60*time.Second, s.Watchdog.ReadyCheckInterval)

	assert.Equal(t, "SD210", s.Devices.Time)
	assert.False(t, s.API.AllowFrontendRestart)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PLC_IP", "192.168.0.10")
	t.Setenv("PLC_PORT", "6000")
	t.Setenv("USE_PLC", "false")
	t.Setenv("LINE_NAME", "LINE_1")
	t.Setenv("PLC_FETCH_TIMEOUT", "10")
	t.Setenv("PLC_PING_TIMEOUT", "0.5")
	t.Setenv("WATCHDOG_READY_CHECK_INTERVAL", "0")
	t.Setenv("ALLOW_FRONTEND_RESTART", "true")
	t.Setenv("PRESENTATION_CMD", "chromium --kiosk http://localhost:8501")

	s := Load(nil)
	assert.Equal(t, "192.168.0.10", s.PLC.Host)
	assert.Equal(t, 6000, s.PLC.Port)
	assert.False(t, s.Service.UsePLC)
	assert.Equal(t, "LINE_1", s.Service.LineName)
	assert.Equal(t, 10*time.Second, s.Service.FetchTimeout)
	assert.Equal(t, 500*time.Millisecond, s.Service.PingTimeout)
	assert.Equal(t, time.Duration(0), s.Watchdog.ReadyCheckInterval)
	assert.True(t, s.API.AllowFrontendRestart)
	assert.Equal(t, []string{"chromium", "--kiosk", "http://localhost:8501"}, s.PresentationCmd)
}

func TestLoad_ClampsRanges(t *testing.T) {
	t.Setenv("RECONNECT_RETRY", "99")
	t.Setenv("WATCHDOG_INTERVAL", "1")
	t.Setenv("WATCHDOG_FAILURE_LIMIT", "0")
	t.Setenv("PLC_FETCH_TIMEOUT", "500")
	t.Setenv("PLC_FETCH_FAILURE_LIMIT", "100")

	s := Load(nil)
	assert.Equal(t, 10, s.PLC.ReconnectRetry)
	assert.Equal(t, 5*time.Second, s.Watchdog.Interval)
	assert.Equal(t, 1, s.Watchdog.FailureLimit)
	assert.Equal(t, 30*time.Second, s.Service.FetchTimeout)
	assert.Equal(t, 20, s.Service.FailureLimit)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("PLC_PORT", "not-a-port")
	t.Setenv("AUTO_RECONNECT", "maybe")
	t.Setenv("WATCHDOG_INTERVAL", "soon")

	s := Load(nil)
	assert.Equal(t, 5007, s.PLC.Port)
	assert.True(t, s.PLC.AutoReconnect)
	assert.Equal(t, 10*time.Second, s.Watchdog.Interval)
}

func TestAPI_Addresses(t *testing.T) {
	a := API{Host: "127.0.0.1", Port: 8000}
	assert.Equal(t, "127.0.0.1:8000", a.Addr())
	assert.Equal(t, "http://127.0.0.1:8000", a.BaseURL())
}
