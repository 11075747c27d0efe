package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastevault_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastevault_paste_resolved_total",
		Help: "no. of pastes resolved",
	})
	PasteExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastevault_paste_expired_total",
		Help: "no. of pastes lazily marked expired on access",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastevault_paste_deleted_total",
		Help: "no. of pastes deleted by request",
	})
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastevault_cache_hits_total",
			Help: "no. of content cache hits",
		},
		[]string{"tier"},
	)
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastevault_cache_misses_total",
		Help: "no. of content cache misses",
	})
	BlobErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastevault_blob_errors_total",
			Help: "no. of blob store failures",
		},
		[]string{"operation"},
	)
	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastevault_sweep_cycles_total",
		Help: "no. of reconciliation sweep cycles",
	})
	SweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastevault_sweep_deleted_total",
		Help: "no. of pastes removed by the sweeper",
	})
	SweepMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastevault_sweep_marked_total",
		Help: "no. of pastes the sweeper marked expired after a failed cleanup",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastevault_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

func Init() {
}
