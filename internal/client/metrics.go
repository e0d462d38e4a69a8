package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiver_forward_breaker_state",
		Help: "Last circuit breaker transition (0 closed, 1 open, 2 half-open)",
	})

	recordsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_forward_records_total",
		Help: "Total number of records sent to the Flight server",
	})

	forwardErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_forward_errors_total",
		Help: "Total number of failed Flight sends",
	})

	recordsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_forward_skipped_total",
		Help: "Total number of records dropped while the breaker was open",
	})
)
