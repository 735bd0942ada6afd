package watchdog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linewatch_watchdog_probe_failures_total",
		Help: "Failed /health probes.",
	})
	metricFailureStreak = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linewatch_watchdog_consecutive_failures",
		Help: "Current run of failed probes; resets on success.",
	})
	metricRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linewatch_watchdog_restarts_total",
		Help: "Staged restarts executed.",
	})
)
