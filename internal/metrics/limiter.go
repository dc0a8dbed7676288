package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	concurrentProbes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamflow_concurrent_probes",
		Help: "Number of probes currently holding the global concurrency slot",
	})

	concurrentProbesByAccount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamflow_concurrent_probes_by_account",
		Help: "Number of probes currently holding an account concurrency slot",
	}, []string{"account"})

	limiterAcquireSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamflow_limiter_acquire_seconds",
		Help:    "Time spent waiting to acquire a concurrency slot",
		Buckets: prometheus.DefBuckets,
	})

	limiterRebuildTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamflow_limiter_rebuild_total",
		Help: "Total number of per-account semaphore rebuilds",
	})
)

// IncConcurrentProbes adjusts the global in-flight probe gauge.
func IncConcurrentProbes() { concurrentProbes.Inc() }

// DecConcurrentProbes adjusts the global in-flight probe gauge.
func DecConcurrentProbes() { concurrentProbes.Dec() }

// IncConcurrentProbesAccount adjusts a per-account in-flight probe gauge.
func IncConcurrentProbesAccount(account string) {
	concurrentProbesByAccount.WithLabelValues(account).Inc()
}

// DecConcurrentProbesAccount adjusts a per-account in-flight probe gauge.
func DecConcurrentProbesAccount(account string) {
	concurrentProbesByAccount.WithLabelValues(account).Dec()
}

// ObserveLimiterAcquire records time spent waiting on a semaphore.
func ObserveLimiterAcquire(seconds float64) { limiterAcquireSeconds.Observe(seconds) }

// IncLimiterRebuild increments the limiter-rebuild counter.
func IncLimiterRebuild() { limiterRebuildTotal.Inc() }
