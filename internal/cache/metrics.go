package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_cache_hits_total",
		Help: "Total number of GetOrLoad calls served from cache",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_cache_misses_total",
		Help: "Total number of GetOrLoad calls that invoked the loader",
	})
)
