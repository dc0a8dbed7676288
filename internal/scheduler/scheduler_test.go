package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sbeimel/streamflow-sub002/internal/cache"
	"github.com/sbeimel/streamflow-sub002/internal/model"
)

type fakeCleanerCache struct {
	mu    sync.Mutex
	store map[string]any
}

func newFakeCleanerCache() *fakeCleanerCache { return &fakeCleanerCache{store: map[string]any{}} }

func (c *fakeCleanerCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	return v, ok
}

func (c *fakeCleanerCache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = value
}

func (c *fakeCleanerCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
}

func (c *fakeCleanerCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = map[string]any{}
}

func (c *fakeCleanerCache) Stats() cache.Stats { return cache.Stats{} }

type fakeDeadRegistryCleaner struct {
	mu         sync.Mutex
	cleanupArg []string
	calls      int
}

func (f *fakeDeadRegistryCleaner) Cleanup(currentURLs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.cleanupArg = append([]string(nil), currentURLs...)
	return 0, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	items     []int
	completed []int
}

func (q *fakeQueue) Add(channelID, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.items {
		if id == channelID {
			return false
		}
	}
	q.items = append(q.items, channelID)
	return true
}

func (q *fakeQueue) AddBulk(channelIDs []int, priority int) int {
	added := 0
	for _, id := range channelIDs {
		if q.Add(id, priority) {
			added++
		}
	}
	return added
}

func (q *fakeQueue) Next() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, false
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, true
}

func (q *fakeQueue) MarkCompleted(channelID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, channelID)
}

func (q *fakeQueue) RemoveFromCompleted(channelID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range q.completed {
		if id == channelID {
			q.completed = append(q.completed[:i], q.completed[i+1:]...)
			return
		}
	}
}

func (q *fakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type fakeTracker struct {
	mu                sync.Mutex
	needingCheck      []int
	globalChecked     int
	lastGlobalCheckAt time.Time
}

func (t *fakeTracker) MarkChannelsUpdated(channelIDs []int) error { return nil }

func (t *fakeTracker) MarkGlobalCheck() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.globalChecked++
	t.lastGlobalCheckAt = time.Now()
	return nil
}

func (t *fakeTracker) GetChannelsNeedingCheck() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.needingCheck...)
}

func (t *fakeTracker) LastGlobalCheckAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastGlobalCheckAt
}

// TestCheckSingleChannel_IsHighestPriority verifies the Trigger API's
// check_single_channel enqueues with priority 0, the highest the queue
// recognizes (P1/scenario 4).
func TestCheckSingleChannel_IsHighestPriority(t *testing.T) {
	q := &fakeQueue{}
	s := New(q, &fakeTracker{}, nil, CronActions{}, Schedule{}, 1)

	ok := s.CheckSingleChannel(42)
	assert.True(t, ok)
	assert.Equal(t, []int{42}, q.items)
}

// TestCheckSingleChannel_RejectsDuplicate mirrors the underlying queue's
// duplicate-add rejection (R1/B2 semantics carried through the Trigger API).
func TestCheckSingleChannel_RejectsDuplicate(t *testing.T) {
	q := &fakeQueue{}
	s := New(q, &fakeTracker{}, nil, CronActions{}, Schedule{}, 1)

	require.True(t, s.CheckSingleChannel(1))
	assert.False(t, s.CheckSingleChannel(1))
}

// TestPerformGlobalAction_SetsAndClearsGuard verifies P7: the global guard
// is true only for the duration of the sweep.
func TestPerformGlobalAction_SetsAndClearsGuard(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTracker{}
	s := New(q, tr, nil, CronActions{}, Schedule{}, 1)

	done := make(chan struct{})
	go func() {
		s.performGlobalAction(context.Background())
		close(done)
	}()
	<-done

	assert.False(t, s.GetStatus().GlobalActionActive)
	assert.Equal(t, 1, tr.globalChecked)
}

// TestDirtyQueueLoop_SkipsWhileGlobalActionInProgress verifies scenario 6 /
// P7: the dirty-queue loop must not enqueue anything while a global sweep
// owns the guard.
func TestDirtyQueueLoop_SkipsWhileGlobalActionInProgress(t *testing.T) {
	q := &fakeQueue{}
	tr := &fakeTracker{needingCheck: []int{7}}
	s := New(q, tr, nil, CronActions{}, Schedule{}, 1)
	s.globalActionInProgress.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.wg.Add(1)
	go s.dirtyQueueLoop(ctx)
	<-ctx.Done()
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 0, q.Len(), "dirty-queue loop must not enqueue while the global guard is held")
}

// TestGetStatus_ReflectsQueueDepth checks get_status surfaces a non-zero
// queued count once work has been added.
func TestGetStatus_ReflectsQueueDepth(t *testing.T) {
	q := &fakeQueue{}
	s := New(q, &fakeTracker{}, nil, CronActions{}, Schedule{}, 1)
	s.CheckSingleChannel(1)
	s.CheckSingleChannel(2)

	status := s.GetStatus()
	assert.Equal(t, 2, status.Queued)
	assert.True(t, status.StreamCheckingMode)
}

// TestSameCalendarDay covers the cron loop's once-per-day guard (scenario 5).
func TestSameCalendarDay(t *testing.T) {
	base := time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)
	sameDay := time.Date(2026, 7, 31, 3, 5, 0, 0, time.UTC)
	nextDay := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)

	assert.True(t, sameCalendarDay(base, sameDay))
	assert.False(t, sameCalendarDay(base, nextDay))
	assert.False(t, sameCalendarDay(time.Time{}, base))
}

// TestStartShutdown_NoGoroutineLeak verifies Start's three loops all exit
// and are reaped by Shutdown - no worker, cron, or dirty-queue goroutine is
// left running past the grace period.
func TestStartShutdown_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	q := &fakeQueue{}
	s := New(q, &fakeTracker{}, nil, CronActions{}, Schedule{}, 2)
	s.GraceTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	cancel()
	s.Shutdown()
}

// TestCachedStreams_PrefersCacheOverFetch verifies the worker path reads a
// populated cache instead of calling ListStreams (comment 1's cache-backed
// fetch, spec §4.G step 2 applied lazily on the read side).
func TestCachedStreams_PrefersCacheOverFetch(t *testing.T) {
	c := newFakeCleanerCache()
	cached := []model.Stream{{ID: 1, URL: "http://s/1"}}
	c.Set("streams", cached, time.Minute)

	fetchCalled := false
	s := New(&fakeQueue{}, &fakeTracker{}, nil, CronActions{
		Cache: c,
		ListStreams: func(ctx context.Context) ([]model.Stream, error) {
			fetchCalled = true
			return nil, nil
		},
	}, Schedule{}, 1)

	got := s.cachedStreams(context.Background())
	assert.Equal(t, cached, got)
	assert.False(t, fetchCalled, "a cache hit must not fall through to ListStreams")
}

// TestCachedStreams_FetchesAndPopulatesOnMiss verifies a cache miss falls
// back to ListStreams and populates the cache for the next reader (comment
// 1: the worker path must actually fetch streams, not pass nil to Run).
func TestCachedStreams_FetchesAndPopulatesOnMiss(t *testing.T) {
	c := newFakeCleanerCache()
	want := []model.Stream{{ID: 7, URL: "http://s/7"}}
	s := New(&fakeQueue{}, &fakeTracker{}, nil, CronActions{
		Cache: c,
		ListStreams: func(ctx context.Context) ([]model.Stream, error) {
			return want, nil
		},
	}, Schedule{}, 1)

	got := s.cachedStreams(context.Background())
	assert.Equal(t, want, got)

	v, ok := c.Get("streams")
	require.True(t, ok, "a miss must populate the cache for subsequent readers")
	assert.Equal(t, want, v)
}

// TestCachedAccounts_FetchesAndPopulatesOnMiss mirrors
// TestCachedStreams_FetchesAndPopulatesOnMiss for ListM3UAccounts.
func TestCachedAccounts_FetchesAndPopulatesOnMiss(t *testing.T) {
	c := newFakeCleanerCache()
	want := []model.M3UAccount{{ID: 3}}
	s := New(&fakeQueue{}, &fakeTracker{}, nil, CronActions{
		Cache: c,
		ListM3UAccounts: func(ctx context.Context) ([]model.M3UAccount, error) {
			return want, nil
		},
	}, Schedule{}, 1)

	got := s.cachedAccounts(context.Background())
	assert.Equal(t, want, got)
	v, ok := c.Get("m3u_accounts")
	require.True(t, ok)
	assert.Equal(t, want, v)
}

// TestPerformGlobalAction_CleansDeadRegistryWithFetchedStreamURLs verifies
// comment 4's wiring: the global sweep must call DeadRegistry.Cleanup with
// the current URL set fetched right after the cache clear, implementing
// spec §4.C's cleanup(current_urls) at the point the spec calls for it
// (§4.G step 2, "refresh the external data cache").
func TestPerformGlobalAction_CleansDeadRegistryWithFetchedStreamURLs(t *testing.T) {
	streams := []model.Stream{
		{ID: 1, URL: "http://s/1"},
		{ID: 2, URL: "http://s/2"},
	}
	cleaner := &fakeDeadRegistryCleaner{}
	tr := &fakeTracker{}
	s := New(&fakeQueue{}, tr, nil, CronActions{
		Cache:        newFakeCleanerCache(),
		DeadRegistry: cleaner,
		ListStreams: func(ctx context.Context) ([]model.Stream, error) {
			return streams, nil
		},
	}, Schedule{}, 1)

	s.performGlobalAction(context.Background())

	require.Equal(t, 1, cleaner.calls)
	assert.ElementsMatch(t, []string{"http://s/1", "http://s/2"}, cleaner.cleanupArg)
}
