package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_RejectsDuplicateQueuedEntry(t *testing.T) {
	q := New(0)
	assert.True(t, q.Add(1, 5))
	assert.False(t, q.Add(1, 5))
}

func TestNext_ReturnsLowestPriorityFirst(t *testing.T) {
	q := New(0)
	q.Add(1, 10)
	q.Add(2, 0)
	q.Add(3, 5)

	id, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, 2, id)

	id, ok = q.Next()
	require.True(t, ok)
	assert.Equal(t, 3, id)
}

func TestNext_FIFOWithinSamePriority(t *testing.T) {
	q := New(0)
	q.Add(1, 5)
	q.Add(2, 5)
	q.Add(3, 5)

	var order []int
	for {
		id, ok := q.Next()
		if !ok {
			break
		}
		order = append(order, id)
	}
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestNext_OnEmptyQueue(t *testing.T) {
	q := New(0)
	_, ok := q.Next()
	assert.False(t, ok)
}

func TestAdd_RespectsMaxSize(t *testing.T) {
	q := New(2)
	assert.True(t, q.Add(1, 0))
	assert.True(t, q.Add(2, 0))
	assert.False(t, q.Add(3, 0))
}

func TestMarkCompleted_MovesFromInFlight(t *testing.T) {
	q := New(0)
	q.Add(1, 0)
	q.Next()
	assert.Equal(t, 1, q.Len())
	q.MarkCompleted(1)
	assert.Equal(t, 0, q.Len())
	assert.True(t, q.IsCompleted(1))
}

func TestChannelCanBeReAddedAfterCompletion(t *testing.T) {
	q := New(0)
	q.Add(1, 0)
	q.Next()
	q.MarkCompleted(1)
	assert.True(t, q.Add(1, 0), "a completed channel is not a member of queued/in-flight and can be re-added")
}

func TestRemoveFromCompleted(t *testing.T) {
	q := New(0)
	q.Add(1, 0)
	q.Next()
	q.MarkCompleted(1)
	q.RemoveFromCompleted(1)
	assert.False(t, q.IsCompleted(1))
}

func TestClear_ResetsAllSets(t *testing.T) {
	q := New(0)
	q.Add(1, 0)
	q.Add(2, 0)
	q.Next()
	q.MarkCompleted(1)
	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.IsCompleted(1))
	assert.True(t, q.Add(1, 0))
	assert.True(t, q.Add(2, 0))
}

func TestAddBulk_SkipsDuplicatesAndReturnsCount(t *testing.T) {
	q := New(0)
	q.Add(1, 0)
	n := q.AddBulk([]int{1, 2, 3}, 0)
	assert.Equal(t, 2, n)
}

func TestCompletedRing_EvictsOldestOnOverflow(t *testing.T) {
	q := New(0)
	const cap = defaultCompletedCap
	for i := 0; i < cap; i++ {
		q.Add(i, 0)
		q.Next()
		q.MarkCompleted(i)
	}
	assert.True(t, q.IsCompleted(0))

	q.Add(cap, 0)
	q.Next()
	q.MarkCompleted(cap)

	assert.False(t, q.IsCompleted(0), "oldest entry should have been evicted")
	assert.True(t, q.IsCompleted(cap))
}
