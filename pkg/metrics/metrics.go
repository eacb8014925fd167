// Package metrics holds the Prometheus collectors shared by the cache, the
// paginated readers and the crash ingestion job.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CacheOps counts cache lookups and writes by outcome.
	CacheOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admindash_cache_operations_total",
		Help: "Local result cache operations by outcome",
	}, []string{"outcome"})

	// PageLoads counts page loads by collection and source (cache or remote).
	PageLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admindash_page_loads_total",
		Help: "Paginated collection loads by collection and source",
	}, []string{"collection", "source"})

	// RemoteLatency observes document store round trips by operation.
	RemoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "admindash_remote_query_seconds",
		Help:    "Remote collection store latency by operation",
		Buckets: prometheus.ExponentialBuckets(0.005, 2.0, 12),
	}, []string{"op"})

	// IngestedCrashes counts crash documents written by ingestion source.
	IngestedCrashes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admindash_ingested_crashes_total",
		Help: "Crash records written to the store by ingestion source",
	}, []string{"source"})

	// IngestRuns counts scheduled sync runs by result.
	IngestRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admindash_ingest_runs_total",
		Help: "Scheduled ingestion runs by result",
	}, []string{"result"})
)

// Cache outcomes.
const (
	CacheHit        = "hit"
	CacheMiss       = "miss"
	CacheExpired    = "expired"
	CacheCorrupt    = "corrupt"
	CacheWriteError = "write_error"
)

func init() {
	prometheus.MustRegister(CacheOps)
	prometheus.MustRegister(PageLoads)
	prometheus.MustRegister(RemoteLatency)
	prometheus.MustRegister(IngestedCrashes)
	prometheus.MustRegister(IngestRuns)
}

// IncCache records one cache operation with outcome.
func IncCache(outcome string) {
	CacheOps.WithLabelValues(outcome).Inc()
}

// IncPageLoad records a page load served from source.
func IncPageLoad(collection, source string) {
	PageLoads.WithLabelValues(collection, source).Inc()
}

// ObserveRemote records the duration of one store operation.
func ObserveRemote(op string, seconds float64) {
	RemoteLatency.WithLabelValues(op).Observe(seconds)
}

// IncIngested adds n written crashes for source.
func IncIngested(source string, n int) {
	IngestedCrashes.WithLabelValues(source).Add(float64(n))
}

// IncIngestRun records a finished sync run.
func IncIngestRun(result string) {
	IngestRuns.WithLabelValues(result).Inc()
}
