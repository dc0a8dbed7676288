package changelog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecent(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "changelog.db"), 0)
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Record(ctx, 1, "dead_stream", "url marked dead"))
	require.NoError(t, l.Record(ctx, 2, "probe_error", "timeout"))

	entries, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries[0].ChannelID, "Recent returns newest first")
}

func TestForChannel_FiltersByChannel(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "changelog.db"), 0)
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	require.NoError(t, l.Record(ctx, 1, "a", "x"))
	require.NoError(t, l.Record(ctx, 2, "b", "y"))
	require.NoError(t, l.Record(ctx, 1, "c", "z"))

	entries, err := l.ForChannel(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, 1, e.ChannelID)
	}
}

func TestRecord_PrunesBeyondMaxRows(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "changelog.db"), 3)
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Record(ctx, i, "event", "detail"))
	}

	entries, err := l.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, 9, entries[0].ChannelID, "newest entry should survive pruning")
}
