package lookup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts cache hits per backend.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bioscout_lookup_cache_hits_total",
			Help: "Total number of lookup cache hits",
		},
		[]string{"backend"}, // "memory", "redis"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bioscout_lookup_cache_misses_total",
			Help: "Total number of lookup cache misses",
		},
		[]string{"backend"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bioscout_lookup_cache_errors_total",
			Help: "Total number of cache backend errors",
		},
		[]string{"operation"}, // "get", "set", "encode", "decode"
	)

	// Lookups counts classified results by category.
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bioscout_lookups_total",
			Help: "Total number of classified lookups",
		},
		[]string{"category"},
	)

	// NetworkCalls counts lookups that reached the network (after cache and dedup).
	NetworkCalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bioscout_lookup_network_calls_total",
			Help: "Total number of lookups fetched from the network",
		},
	)

	// DedupJoined counts callers that waited on an in-flight lookup.
	DedupJoined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bioscout_lookup_dedup_joined_total",
			Help: "Total number of lookups served by an in-flight request",
		},
	)

	// LimiterRate is the current limiter rate of the most recently updated job.
	LimiterRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bioscout_lookup_limiter_rate",
			Help: "Current adaptive limiter rate (requests/second)",
		},
	)

	Jobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bioscout_lookup_jobs_total",
			Help: "Total number of bulk lookup jobs",
		},
		[]string{"result"}, // "completed", "aborted"
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bioscout_lookup_job_duration_seconds",
			Help:    "Bulk lookup job duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)
