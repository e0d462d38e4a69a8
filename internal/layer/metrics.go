package layer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LayerDuration tracks time spent in each lifecycle call.
	LayerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_layer_duration_seconds",
		Help:    "Time spent in layer lifecycle calls",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
	}, []string{"layer_type", "op"})

	// BridgeLockWait tracks time Script layers wait for the exclusive lock.
	BridgeLockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_bridge_lock_wait_seconds",
		Help:    "Time Script layer calls wait for the per-precision exclusive lock",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{"precision"})

	layersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_layers_created_total",
		Help: "Total number of layers created, by type",
	}, []string{"layer_type"})
)
