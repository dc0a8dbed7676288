package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamflow_probes_total",
		Help: "Total probe invocations by resulting status",
	}, []string{"status"}) // status=OK|Timeout|Error|Dead

	probeDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamflow_probe_duration_seconds",
		Help:    "Wall-clock duration of a single probe invocation",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90},
	}, []string{"status"})

	probeRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamflow_probe_retries_total",
		Help: "Total probe retry attempts across all streams",
	})

	streamScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamflow_stream_score",
		Help:    "Computed score distribution for probed streams",
		Buckets: []float64{0, 10, 25, 50, 75, 100, 150, 200},
	})

	deadStreamsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamflow_dead_streams_marked_total",
		Help: "Total number of streams marked dead",
	})

	deadStreamsRevivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamflow_dead_streams_revived_total",
		Help: "Total number of dead-stream entries removed (revived or cleaned up)",
	})
)

// IncProbe increments the probe counter for the given status.
func IncProbe(status string) { probesTotal.WithLabelValues(status).Inc() }

// ObserveProbeDuration records a probe's wall-clock duration.
func ObserveProbeDuration(status string, seconds float64) {
	probeDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// IncProbeRetry increments the probe retry counter.
func IncProbeRetry() { probeRetriesTotal.Inc() }

// ObserveStreamScore records a computed stream score.
func ObserveStreamScore(score float64) { streamScore.Observe(score) }

// IncDeadStreamMarked increments the dead-stream counter.
func IncDeadStreamMarked() { deadStreamsTotal.Inc() }

// IncDeadStreamRevived increments the dead-stream-revived counter.
func IncDeadStreamRevived(n int) { deadStreamsRevivedTotal.Add(float64(n)) }
