package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	netPassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_net_pass_duration_seconds",
		Help:    "Time spent in full forward or backward passes",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"pass"})

	netsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_nets_built_total",
		Help: "Total number of nets built",
	})

	replicasBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiver_replicas_busy",
		Help: "Number of net replicas currently acquired",
	})

	replicaWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_replica_wait_seconds",
		Help:    "Time spent waiting for a free net replica",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})
)
