// Package watchdog is the out-of-process supervisor for the API
// server. It owns exactly one child — spawned as a session leader so
// the whole subtree can be signaled at once — and keeps it alive with
// periodic /health probes, a consecutive-failure counter and staged
// restart backoff.
//
// # Monitoring
//
// Every WATCHDOG_INTERVAL the loop probes /health with a short timeout.
// A success resets both the failure counter and the restart counter
// (the service is stable again). Any failure — non-200, connection
// error, JSON garbage, even a panic inside the probe path — increments
// the counter and never takes the watchdog down; at
// WATCHDOG_FAILURE_LIMIT the restart decision runs. An optional /ready
// probe fires on its own cadence and is logged only: degraded
// readiness never drives a restart.
//
// # Restart decision
//
// All timing is measured on the injected clock with monotonic
// difference semantics; wall-clock adjustments on the kiosk (NTP, the
// time-sync endpoint) do not move restart schedules. Within
// WATCHDOG_STARTUP_GRACE of the previous restart the decision is
// skipped so a booting child is not shot mid-startup. After the grace,
// the restart is allowed only once the staged cooldown has elapsed:
// stage k waits stages[min(k,3)] with stages =
// [WATCHDOG_RESTART_COOLDOWN, 300s, 900s, 1800s], capped by
// WATCHDOG_BACKOFF_MAX. Counters are preserved across skipped and
// executed restarts — only a successful probe clears them.
//
// Child termination sends SIGTERM to the process group, waits five
// seconds and escalates to SIGKILL. The probe HTTP client is closed
// and recreated at every restart boundary to drop stale sockets.
package watchdog
