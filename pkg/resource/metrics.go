package resource

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CacheLookups counts Acquire/Get calls by outcome (hit, miss, joined)
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrnav_cache_lookups_total",
			Help: "Total number of cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// CacheDecodes counts completed image decodes
	CacheDecodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrnav_cache_decodes_total",
			Help: "Total number of image decodes by result",
		},
		[]string{"result"},
	)

	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrnav_cache_evictions_total",
			Help: "Total number of entries evicted after their last release",
		},
	)

	// CacheDoubleFrees counts strict releases of keys that were not cached
	CacheDoubleFrees = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrnav_cache_double_free_total",
			Help: "Total number of releases of keys that were not resident",
		},
	)

	CacheResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrnav_cache_resident_entries",
			Help: "Number of entries currently resident across all caches",
		},
	)

	CacheDecodeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrnav_cache_decode_seconds",
			Help:    "Time spent decoding a location image",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(CacheLookups)
	prometheus.MustRegister(CacheDecodes)
	prometheus.MustRegister(CacheEvictions)
	prometheus.MustRegister(CacheDoubleFrees)
	prometheus.MustRegister(CacheResident)
	prometheus.MustRegister(CacheDecodeSeconds)
}
