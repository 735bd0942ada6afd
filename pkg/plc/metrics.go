package plc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linewatch_plc_connects_total",
		Help: "Successful PLC TCP connections.",
	})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linewatch_plc_reconnect_attempts_total",
		Help: "PLC reconnect attempts.",
	})
	metricReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linewatch_plc_reads_total",
		Help: "Typed PLC reads by operation and outcome.",
	}, []string{"op", "result"})
)
