package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamflow_pipeline_runs_total",
		Help: "Total ChannelCheckPipeline runs by outcome",
	}, []string{"outcome"}) // outcome=success|channel_missing|upstream_error

	pipelineDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamflow_pipeline_duration_seconds",
		Help:    "Wall-clock duration of a single channel check",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	pipelineStreamsProbed = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamflow_pipeline_streams_probed",
		Help:    "Number of streams probed per channel check",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})

	channelsReenabledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamflow_channels_reenabled_total",
		Help: "Total number of channels re-enabled after regaining a working stream",
	})

	globalSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamflow_global_sweeps_total",
		Help: "Total number of completed global sweeps",
	})

	globalActionInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamflow_global_action_in_progress",
		Help: "1 while a global sweep is running, 0 otherwise",
	})
)

// IncPipelineRun increments the pipeline-run counter by outcome.
func IncPipelineRun(outcome string) { pipelineRunsTotal.WithLabelValues(outcome).Inc() }

// ObservePipelineDuration records a pipeline run's duration.
func ObservePipelineDuration(seconds float64) { pipelineDurationSeconds.Observe(seconds) }

// ObservePipelineStreamsProbed records how many streams a run probed.
func ObservePipelineStreamsProbed(n int) { pipelineStreamsProbed.Observe(float64(n)) }

// IncChannelsReenabled increments the re-enablement counter.
func IncChannelsReenabled(n int) { channelsReenabledTotal.Add(float64(n)) }

// IncGlobalSweep increments the completed-sweep counter.
func IncGlobalSweep() { globalSweepsTotal.Inc() }

// SetGlobalActionInProgress records the global guard's current value.
func SetGlobalActionInProgress(inProgress bool) {
	if inProgress {
		globalActionInProgress.Set(1)
		return
	}
	globalActionInProgress.Set(0)
}
