package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader_Defaults(t *testing.T) {
	l, err := NewLoader("")
	require.NoError(t, err)

	cfg := l.Current()
	assert.Equal(t, Pipeline2, cfg.StreamAnalysis.PipelineMode)
	assert.Equal(t, 5, cfg.Concurrency.GlobalMax)
	assert.Equal(t, 2*time.Second, cfg.Concurrency.StaggerDelay)
}

func TestNewLoader_Defaults_DeadStreamThresholds(t *testing.T) {
	l, err := NewLoader("")
	require.NoError(t, err)

	cfg := l.Current()
	assert.True(t, cfg.DeadStream.Enabled)
	assert.Equal(t, 1, cfg.DeadStream.MinBitrateKbps)
	assert.Equal(t, 0, cfg.DeadStream.MinResolutionWidth)
	assert.Equal(t, 0, cfg.DeadStream.MinResolutionHeight)
	assert.Equal(t, 0.0, cfg.DeadStream.MinScore)
}

func TestNewLoader_FileOverridesDeadStreamThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"dead_stream_handling:\n"+
			"  min_resolution_width: 640\n"+
			"  min_resolution_height: 480\n"+
			"  min_bitrate_kbps: 200\n"+
			"  min_score: 0.5\n"), 0o644))

	l, err := NewLoader(path)
	require.NoError(t, err)
	cfg := l.Current()
	assert.Equal(t, 640, cfg.DeadStream.MinResolutionWidth)
	assert.Equal(t, 480, cfg.DeadStream.MinResolutionHeight)
	assert.Equal(t, 200, cfg.DeadStream.MinBitrateKbps)
	assert.Equal(t, 0.5, cfg.DeadStream.MinScore)
}

func TestNewLoader_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency:\n  concurrent_streams: 9\n"), 0o644))

	l, err := NewLoader(path)
	require.NoError(t, err)
	assert.Equal(t, 9, l.Current().Concurrency.GlobalMax)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency:\n  concurrent_streams: 9\n"), 0o644))

	t.Setenv("STREAMFLOW_CONCURRENT_STREAMS", "17")
	l, err := NewLoader(path)
	require.NoError(t, err)
	assert.Equal(t, 17, l.Current().Concurrency.GlobalMax)
}

func TestValidate_RejectsUnknownPipelineMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stream_analysis:\n  pipeline_mode: bogus\n"), 0o644))

	_, err := NewLoader(path)
	assert.Error(t, err)
}

func TestPipelineMode_Budget(t *testing.T) {
	cases := []struct {
		mode     PipelineMode
		duration time.Duration
		timeout  time.Duration
	}{
		{Pipeline1, 8 * time.Second, 4 * time.Second},
		{Pipeline1_5, 12 * time.Second, 6 * time.Second},
		{Pipeline2, 16 * time.Second, 8 * time.Second},
		{Pipeline2_5, 24 * time.Second, 10 * time.Second},
		{Pipeline3, 32 * time.Second, 12 * time.Second},
	}
	for _, tc := range cases {
		d, to, ok := tc.mode.Budget()
		require.True(t, ok, tc.mode)
		assert.Equal(t, tc.duration, d, tc.mode)
		assert.Equal(t, tc.timeout, to, tc.mode)
	}
}

func TestPipelineMode_Disabled(t *testing.T) {
	_, _, ok := PipelineDisabled.Budget()
	assert.False(t, ok)
	_, ok = PipelineDisabled.WallClockTimeout()
	assert.False(t, ok)
}

func TestPipelineMode_WallClockTimeoutAddsStartupBuffer(t *testing.T) {
	wc, ok := Pipeline1.WallClockTimeout()
	require.True(t, ok)
	assert.Equal(t, 8*time.Second+4*time.Second+10*time.Second, wc)
}

func TestWatchFile_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency:\n  concurrent_streams: 1\n"), 0o644))

	l, err := NewLoader(path)
	require.NoError(t, err)
	require.NoError(t, l.WatchFile())
	defer l.Close()

	changed := make(chan Snapshot, 1)
	l.OnChange(func(s Snapshot) { changed <- s })

	require.NoError(t, os.WriteFile(path, []byte("concurrency:\n  concurrent_streams: 42\n"), 0o644))

	select {
	case s := <-changed:
		assert.Equal(t, 42, s.Concurrency.GlobalMax)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
