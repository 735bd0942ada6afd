package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linewatch_service_consecutive_failures",
		Help: "Consecutive PLC operation failures; resets on success.",
	})
	metricSelfTerminations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linewatch_service_self_terminations_total",
		Help: "Times the service hit its failure limit and signaled itself.",
	})
)
