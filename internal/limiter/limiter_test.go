package limiter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_BoundsGlobalConcurrency(t *testing.T) {
	l := New(2, 0, 0)
	ctx := context.Background()

	rel1, err := l.Acquire(ctx, 0)
	require.NoError(t, err)
	rel2, err := l.Acquire(ctx, 0)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		rel3, err := l.Acquire(ctx, 0)
		require.NoError(t, err)
		close(acquired)
		rel3()
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked while global slots are held")
	case <-time.After(100 * time.Millisecond):
	}

	rel1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire should unblock after a release")
	}
	rel2()
}

func TestAcquire_RespectsAccountLimit(t *testing.T) {
	l := New(10, 0, 0)
	l.SetAccountLimit(5, 1)
	ctx := context.Background()

	rel1, err := l.Acquire(ctx, 5)
	require.NoError(t, err)

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(cctx, 5)
	assert.Error(t, err, "second acquire for the same capped account should block until the first releases")

	rel1()
}

func TestAcquire_DifferentAccountsDontBlockEachOther(t *testing.T) {
	l := New(10, 0, 0)
	l.SetAccountLimit(1, 1)
	l.SetAccountLimit(2, 1)
	ctx := context.Background()

	rel1, err := l.Acquire(ctx, 1)
	require.NoError(t, err)
	defer rel1()

	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	rel2, err := l.Acquire(cctx, 2)
	require.NoError(t, err)
	rel2()
}

func TestRelease_IsIdempotent(t *testing.T) {
	l := New(1, 0, 0)
	rel, err := l.Acquire(context.Background(), 0)
	require.NoError(t, err)
	rel()
	assert.NotPanics(t, func() { rel() })
}

func TestAcquire_ContextCancellation(t *testing.T) {
	l := New(1, 0, 0)
	rel, err := l.Acquire(context.Background(), 0)
	require.NoError(t, err)
	defer rel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, 0)
	assert.Error(t, err)
}

func TestSetAccountLimit_ZeroRemovesBound(t *testing.T) {
	l := New(10, 0, 0)
	l.SetAccountLimit(1, 1)
	l.SetAccountLimit(1, 0)

	var count int32
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		rel, err := l.Acquire(ctx, 1)
		require.NoError(t, err)
		atomic.AddInt32(&count, 1)
		defer rel()
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&count))
}
