package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbeimel/streamflow-sub002/internal/model"
)

// fakeInspector lets tests script a sequence of (text, err) responses,
// standing in for the external subprocess.
type fakeInspector struct {
	responses []fakeResponse
	calls     int
	sleep     time.Duration
}

type fakeResponse struct {
	text string
	err  error
}

func (f *fakeInspector) Inspect(ctx context.Context, url, userAgent string) (string, error) {
	if f.sleep > 0 {
		select {
		case <-time.After(f.sleep):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i].text, f.responses[i].err
}

func TestProbe_ZeroRetriesReturnsFullyPopulatedErrorStats(t *testing.T) {
	// B1: probe(url, retries=0) returns a fully-populated StreamStats with
	// status Error and bitrate nil.
	insp := &fakeInspector{responses: []fakeResponse{{text: "", err: assertErr}}}
	exec := NewExecutor(insp, 8*time.Second, 4*time.Second, Retry{MaxRetries: 0, Delay: time.Millisecond}, "test-agent")

	stats := exec.Probe(context.Background(), "http://example/stream")
	assert.Equal(t, model.StatusError, stats.Status)
	assert.Nil(t, stats.FFmpegOutputBitrate)
	assert.False(t, stats.ProbedAt.IsZero())
}

func TestProbe_SuccessfulDiagnosticsYieldOK(t *testing.T) {
	insp := &fakeInspector{responses: []fakeResponse{
		{text: "Video: h264, 1920x1080, 30 fps\nStatistics: 15000000 bytes read\n"},
	}}
	exec := NewExecutor(insp, 30*time.Second, 4*time.Second, Retry{MaxRetries: 0, Delay: time.Millisecond}, "test-agent")

	stats := exec.Probe(context.Background(), "http://example/stream")
	assert.Equal(t, model.StatusOK, stats.Status)
	assert.Equal(t, 1920, stats.Resolution.W)
	require.NotNil(t, stats.FFmpegOutputBitrate)
	assert.Equal(t, 4000, *stats.FFmpegOutputBitrate)
}

func TestProbe_RetriesOnlyOnTimeoutOrError(t *testing.T) {
	insp := &fakeInspector{responses: []fakeResponse{
		{text: "", err: assertErr},
		{text: "Video: h264, 1280x720, 25 fps\n"},
	}}
	exec := NewExecutor(insp, 8*time.Second, 4*time.Second, Retry{MaxRetries: 1, Delay: time.Millisecond}, "test-agent")

	stats := exec.Probe(context.Background(), "http://example/stream")
	assert.Equal(t, model.StatusOK, stats.Status)
	assert.Equal(t, 2, insp.calls)
}

func TestProbe_DoesNotRetryOnSuccess(t *testing.T) {
	insp := &fakeInspector{responses: []fakeResponse{
		{text: "Video: h264, 1280x720, 25 fps\n"},
		{text: "Video: h264, 1920x1080, 50 fps\n"},
	}}
	exec := NewExecutor(insp, 8*time.Second, 4*time.Second, Retry{MaxRetries: 1, Delay: time.Millisecond}, "test-agent")

	stats := exec.Probe(context.Background(), "http://example/stream")
	assert.Equal(t, 1280, stats.Resolution.W)
	assert.Equal(t, 1, insp.calls)
}

func TestProbe_NeverReturnsErrorToCaller(t *testing.T) {
	insp := &fakeInspector{sleep: 50 * time.Millisecond}
	exec := NewExecutor(insp, 0, 0, Retry{MaxRetries: 0, Delay: 0}, "test-agent")
	exec.StartupBuffer = 10 * time.Millisecond

	stats := exec.Probe(context.Background(), "http://example/stream")
	assert.Equal(t, model.StatusTimeout, stats.Status)
}

var assertErr = errSentinel("inspector failed")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }
