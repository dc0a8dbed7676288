// Package queue implements CheckQueue, a bounded priority queue of channel
// IDs awaiting a check, grounded on the teacher's container/heap-based job
// queue (internal/jobs) and generalized to the spec's
// queued/in_progress/completed membership-set model.
package queue

import (
	"container/heap"
	"sync"

	"github.com/sbeimel/streamflow-sub002/internal/metrics"
)

// item is a single queued entry. Lower Priority values dequeue first;
// among equal priorities, earlier Seq (insertion order) wins, giving the
// queue FIFO-within-priority behavior.
type item struct {
	ChannelID int
	Priority  int
	Seq       uint64
	index     int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// CheckQueue is the bounded priority queue feeding the worker loop. A
// channel can be a member of at most one of queued/inProgress at a time;
// completed is a separate, FIFO-bounded record of recently finished
// channel IDs (not a membership gate - a channel can be re-added after
// completing).
type CheckQueue struct {
	mu sync.Mutex

	heap    itemHeap
	queued  map[int]bool
	inFlight map[int]bool

	completedRing []int
	completedSet  map[int]bool
	completedHead int

	maxSize int
	nextSeq uint64
}

// New creates a CheckQueue bounded at maxSize entries (queued + in-flight).
// A non-positive maxSize disables the bound.
func New(maxSize int) *CheckQueue {
	q := &CheckQueue{
		queued:       make(map[int]bool),
		inFlight:     make(map[int]bool),
		completedSet: make(map[int]bool),
		maxSize:      maxSize,
	}
	heap.Init(&q.heap)
	return q
}

// Add enqueues channelID at priority (lower = sooner). Returns false
// without enqueuing if the channel is already queued or in-flight, or if
// the queue is at capacity.
func (q *CheckQueue) Add(channelID, priority int) bool {
	return q.AddBulk([]int{channelID}, priority) == 1
}

// AddBulk enqueues multiple channel IDs at the same priority, returning how
// many were actually enqueued (skipping duplicates and respecting the
// bound).
func (q *CheckQueue) AddBulk(channelIDs []int, priority int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := 0
	for _, id := range channelIDs {
		if q.queued[id] || q.inFlight[id] {
			metrics.IncQueueAdd("duplicate")
			continue
		}
		if q.maxSize > 0 && len(q.queued)+len(q.inFlight) >= q.maxSize {
			metrics.IncQueueAdd("rejected_full")
			continue
		}
		it := &item{ChannelID: id, Priority: priority, Seq: q.nextSeq}
		q.nextSeq++
		heap.Push(&q.heap, it)
		q.queued[id] = true
		added++
		metrics.IncQueueAdd("accepted")
	}
	metrics.SetQueueDepth("queued", len(q.queued))
	metrics.SetQueueDepth("in_progress", len(q.inFlight))
	return added
}

// Next pops the highest-priority channel ID, moving it from queued to
// in-flight. The second return is false if the queue is empty.
func (q *CheckQueue) Next() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return 0, false
	}
	it := heap.Pop(&q.heap).(*item)
	delete(q.queued, it.ChannelID)
	q.inFlight[it.ChannelID] = true
	metrics.SetQueueDepth("queued", len(q.queued))
	metrics.SetQueueDepth("in_progress", len(q.inFlight))
	return it.ChannelID, true
}

// defaultCompletedCap bounds the FIFO completed-set ring; the size is fixed
// and callers cannot change it. spec §4 calls for a modest trailing
// window just for recent-completion lookups, not a full audit log.
const defaultCompletedCap = 1000

// MarkCompleted moves channelID from in-flight into the bounded, FIFO
// completed set, evicting the oldest entry if the ring is full.
func (q *CheckQueue) MarkCompleted(channelID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, channelID)
	metrics.SetQueueDepth("in_progress", len(q.inFlight))

	if q.completedSet[channelID] {
		return
	}
	cap := defaultCompletedCap
	if len(q.completedRing) < cap {
		q.completedRing = append(q.completedRing, channelID)
	} else {
		evicted := q.completedRing[q.completedHead]
		delete(q.completedSet, evicted)
		q.completedRing[q.completedHead] = channelID
		q.completedHead = (q.completedHead + 1) % cap
	}
	q.completedSet[channelID] = true
}

// RemoveFromCompleted drops channelID from the completed set, e.g. because
// it was just re-added to the live queue and shouldn't show as "recently
// completed" anymore.
func (q *CheckQueue) RemoveFromCompleted(channelID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.completedSet, channelID)
}

// IsCompleted reports whether channelID is in the recent-completion window.
func (q *CheckQueue) IsCompleted(channelID int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completedSet[channelID]
}

// Len returns the combined queued+in-flight size.
func (q *CheckQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued) + len(q.inFlight)
}

// Clear empties every internal set, used by the global sweep to start from
// a known state.
func (q *CheckQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap = nil
	heap.Init(&q.heap)
	q.queued = make(map[int]bool)
	q.inFlight = make(map[int]bool)
	q.completedRing = nil
	q.completedSet = make(map[int]bool)
	q.completedHead = 0
	metrics.SetQueueDepth("queued", 0)
	metrics.SetQueueDepth("in_progress", 0)
}
