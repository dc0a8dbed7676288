package probe

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sbeimel/streamflow-sub002/internal/metrics"
	"github.com/sbeimel/streamflow-sub002/internal/model"
)

// Inspector runs the external media inspector subprocess against one URL
// and returns its raw diagnostic text (spec §6: "produces diagnostic text
// on its error stream"). Implementations must never block past ctx's
// deadline.
type Inspector interface {
	Inspect(ctx context.Context, url string, userAgent string) (diagnosticText string, err error)
}

// CommandInspector shells out to a real media inspector binary (by
// convention, ffprobe/ffmpeg-compatible), treating it as the pure
// subprocess function the spec describes.
type CommandInspector struct {
	// BinaryPath is the inspector executable, e.g. "ffmpeg".
	BinaryPath string
	// BuildArgs constructs the subprocess argv for one probe, given the
	// duration budget and user agent; split out so tests can substitute a
	// fake binary without reimplementing flag assembly.
	BuildArgs func(url, userAgent string, duration time.Duration) []string
	// Duration is the probe duration passed to BuildArgs on every Inspect.
	Duration time.Duration
}

// Inspect runs the configured binary and returns its combined output,
// which the spec's inspector writes to its error stream.
func (c CommandInspector) Inspect(ctx context.Context, url, userAgent string) (string, error) {
	args := c.BuildArgs(url, userAgent, c.Duration)
	cmd := exec.CommandContext(ctx, c.BinaryPath, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// Retry describes the probe retry policy (spec §4.A.6): fixed delay,
// retried only on Timeout/Error verdicts.
type Retry struct {
	MaxRetries int
	Delay      time.Duration
}

// Executor is the ProbeExecutor: it wraps an Inspector with the hard
// wall-clock timeout, diagnostic parsing, retry policy, and always returns
// a fully populated StreamStats (spec B1).
type Executor struct {
	Inspector       Inspector
	DurationSeconds time.Duration
	TimeoutSeconds  time.Duration
	StartupBuffer   time.Duration
	UserAgent       string
	Retry           Retry
	Clock           func() time.Time
}

const defaultStartupBuffer = 10 * time.Second

// NewExecutor builds an Executor from the resolved pipeline-mode budget.
func NewExecutor(inspector Inspector, duration, timeout time.Duration, retry Retry, userAgent string) *Executor {
	return &Executor{
		Inspector:       inspector,
		DurationSeconds: duration,
		TimeoutSeconds:  timeout,
		StartupBuffer:   defaultStartupBuffer,
		UserAgent:       userAgent,
		Retry:           retry,
		Clock:           time.Now,
	}
}

// Probe runs the configured inspector against url, retrying per policy on
// Timeout/Error, and always returns a fully-populated StreamStats - never
// an error to the caller (spec §4.A: "ProbeExecutor never throws").
func (e *Executor) Probe(ctx context.Context, rawURL string) model.StreamStats {
	url, err := normalizeStreamURL(rawURL)
	if err != nil {
		stats := e.errorStats()
		metrics.IncProbe(string(stats.Status))
		recordProbeOutcome(ctx, string(stats.Status))
		return stats
	}

	attempts := e.Retry.MaxRetries + 1
	var stats model.StreamStats

	for attempt := 0; attempt < attempts; attempt++ {
		stats = e.attemptOnce(ctx, url)
		if stats.Status != model.StatusTimeout && stats.Status != model.StatusError {
			break
		}
		if attempt < attempts-1 {
			metrics.IncProbeRetry()
			select {
			case <-ctx.Done():
				return e.timeoutStats()
			case <-time.After(e.Retry.Delay):
			}
		}
	}

	metrics.IncProbe(string(stats.Status))
	recordProbeOutcome(ctx, string(stats.Status))
	return stats
}

// recordProbeOutcome emits the OTel-side counterpart of metrics.IncProbe, so
// spans covering a probe batch carry the same outcome breakdown that
// Prometheus exposes, without the scheduler core running a second
// independent Prometheus registry of its own. The meter is looked up against
// the current global provider at call time rather than bound once at
// package init, so this still works if telemetry.NewProvider runs after
// package init (as it does in cmd/schedulerd).
func recordProbeOutcome(ctx context.Context, status string) {
	meter := otel.GetMeterProvider().Meter("streamflow.probe")
	probeTotal, _ := meter.Int64Counter("streamflow_probe_outcome_total", metric.WithDescription("Total probe attempts by outcome status"))
	probeTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

func (e *Executor) attemptOnce(ctx context.Context, url string) model.StreamStats {
	wallClock := e.DurationSeconds + e.TimeoutSeconds + e.StartupBuffer
	probeCtx, cancel := context.WithTimeout(ctx, wallClock)
	defer cancel()

	start := e.now()
	text, err := e.Inspector.Inspect(probeCtx, url, e.UserAgent)
	elapsed := e.now().Sub(start)

	if probeCtx.Err() == context.DeadlineExceeded {
		metrics.ObserveProbeDuration(string(model.StatusTimeout), elapsed.Seconds())
		return e.timeoutStats()
	}
	if err != nil && text == "" {
		metrics.ObserveProbeDuration(string(model.StatusError), elapsed.Seconds())
		return e.errorStats()
	}

	parsed := ParseDiagnostics(text, e.DurationSeconds.Seconds())
	status := classifyStatus(parsed, err)
	metrics.ObserveProbeDuration(string(status), elapsed.Seconds())

	return model.StreamStats{
		Resolution:          model.Resolution{W: parsed.Width, H: parsed.Height},
		SourceFPS:           parsed.FPS,
		VideoCodec:          parsed.VideoCodec,
		AudioCodec:          parsed.AudioCodec,
		FFmpegOutputBitrate: parsed.BitrateKbps,
		Status:              status,
		ProbedAt:            e.now(),
	}
}

// classifyStatus implements spec §4.A.5: OK if any of
// {resolution != 0x0, fps > 0, bitrate > 0}; Error otherwise.
func classifyStatus(p ParsedDiagnostics, err error) model.StreamStatus {
	if (p.Width != 0 || p.Height != 0) || p.FPS > 0 || (p.BitrateKbps != nil && *p.BitrateKbps > 0) {
		return model.StatusOK
	}
	if err != nil {
		return model.StatusError
	}
	return model.StatusError
}

func (e *Executor) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// timeoutStats returns a fully-populated StreamStats for a subprocess
// that exceeded its wall-clock budget (spec B1: retries=0 must still
// return every field).
func (e *Executor) timeoutStats() model.StreamStats {
	return model.StreamStats{Status: model.StatusTimeout, ProbedAt: e.now()}
}

// errorStats returns a fully-populated StreamStats for any other failure.
func (e *Executor) errorStats() model.StreamStats {
	return model.StreamStats{Status: model.StatusError, ProbedAt: e.now()}
}

// DeadStats produces the synthetic StreamStats for streams pre-marked dead
// via DeadStreamRegistry lookup (spec §4.F step 4): no subprocess is
// invoked at all.
func DeadStats(at time.Time) model.StreamStats {
	return model.StreamStats{Status: model.StatusDead, ProbedAt: at}
}
