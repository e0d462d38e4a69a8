package script

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	interpreterStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_script_interpreter_starts_total",
		Help: "Total number of interpreter start-ups (one per process)",
	})

	gilWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_script_gil_wait_seconds",
		Help:    "Time spent waiting for the global execution lock",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	gilHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiver_script_gil_held",
		Help: "1 while the global execution lock is held",
	})

	threadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_script_threads_created_total",
		Help: "Total number of Lua threads allocated for lock acquisitions",
	})

	moduleImports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_script_imports_total",
		Help: "Total number of module imports",
	})

	objectsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiver_script_objects_live",
		Help: "Number of scripted objects currently anchored",
	})

	scriptErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_script_errors_total",
		Help: "Total number of fatal script errors reported",
	})
)
