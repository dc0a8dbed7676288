// Package metrics provides Prometheus metrics collection for the scheduler
// core, one file per concern, free Record/Inc functions over promauto
// collectors — the same shape as the teacher's internal/metrics package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamflow_queue_depth",
		Help: "Number of channel IDs currently in each CheckQueue set",
	}, []string{"set"}) // set=queued|in_progress|completed

	queueAddTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamflow_queue_add_total",
		Help: "Total CheckQueue.Add attempts by outcome",
	}, []string{"outcome"}) // outcome=accepted|duplicate|rejected_full

	queueWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamflow_queue_wait_seconds",
		Help:    "Time a channel ID spent queued before being dequeued",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
	})
)

// SetQueueDepth records the current size of one CheckQueue set.
func SetQueueDepth(set string, n int) { queueDepth.WithLabelValues(set).Set(float64(n)) }

// IncQueueAdd increments the queue-add counter by outcome.
func IncQueueAdd(outcome string) { queueAddTotal.WithLabelValues(outcome).Inc() }

// ObserveQueueWait records how long an entry waited in the queue.
func ObserveQueueWait(seconds float64) { queueWaitSeconds.Observe(seconds) }
