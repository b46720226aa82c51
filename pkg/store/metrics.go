package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh cache hits by backend (memory, redis)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metric_cache_hits_total",
			Help: "Total number of fresh metric cache hits",
		},
		[]string{"backend"},
	)

	// CacheMisses tracks cache misses and stale reads by backend
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metric_cache_misses_total",
			Help: "Total number of metric cache misses",
		},
		[]string{"backend"},
	)

	// CacheWrites tracks cache writes by backend
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metric_cache_writes_total",
			Help: "Total number of metric cache writes",
		},
		[]string{"backend"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metric_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"backend", "operation"}, // "get", "put", "clear"
	)
)
