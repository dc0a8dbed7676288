// Package tracker implements UpdateTracker, which records each channel's
// per-check watermark - whether it needs a check, when it was last checked,
// and which stream IDs that check covered - plus the one global watermark
// for the cron sweep's once-per-day guard. Grounded on the teacher's
// internal/state dirty-tracking pattern, generalized to the spec's
// TrackerRecord shape and persisted through internal/store.
package tracker

import (
	"sync"
	"time"

	"github.com/sbeimel/streamflow-sub002/internal/store"
)

// TrackerRecord is the per-channel persisted watermark (spec §3/§6).
type TrackerRecord struct {
	LastCheckedAt        *time.Time `json:"last_checked_at,omitempty"`
	LastStreamCount      int        `json:"last_stream_count"`
	LastCheckedStreamIDs []int      `json:"last_checked_stream_ids,omitempty"`
	NeedsCheck           bool       `json:"needs_check"`
	LastUpdatedAt        *time.Time `json:"last_updated_at,omitempty"`
}

// persisted is the on-disk shape written through internal/store, matching
// spec §6's {channels:{id:TrackerRecord}, last_global_check_at}.
type persisted struct {
	Channels          map[int]TrackerRecord `json:"channels"`
	LastGlobalCheckAt *time.Time            `json:"last_global_check_at,omitempty"`
}

// UpdateTracker holds one TrackerRecord per observed channel plus the
// global sweep watermark.
//
// NeedsCheck (inside each TrackerRecord) is cleared ONLY by
// MarkChannelChecked. MarkGlobalCheck intentionally never touches it: a
// global sweep is a scheduling decision, not evidence that any particular
// channel's state changed. The field is exported on TrackerRecord, but the
// records live in the unexported channels map, so no other package can
// mutate it - MarkChannelChecked is the only call site that clears it,
// which is what makes the §9 "needs_check cleared on read"
// class of bug structurally impossible here.
type UpdateTracker struct {
	mu                sync.Mutex
	channels          map[int]TrackerRecord
	lastGlobalCheckAt *time.Time
	path              string
	nowFunc           func() time.Time
}

// New creates an UpdateTracker backed by the JSON file at path (empty
// path disables persistence, useful in tests).
func New(path string) (*UpdateTracker, error) {
	t := &UpdateTracker{
		channels: make(map[int]TrackerRecord),
		path:     path,
		nowFunc:  time.Now,
	}
	if path == "" {
		return t, nil
	}
	var p persisted
	if err := store.LoadJSON(path, &p); err != nil {
		return nil, err
	}
	if p.Channels != nil {
		t.channels = p.Channels
	}
	t.lastGlobalCheckAt = p.LastGlobalCheckAt
	return t, nil
}

func (t *UpdateTracker) saveLocked() error {
	if t.path == "" {
		return nil
	}
	return store.SaveJSON(t.path, persisted{Channels: t.channels, LastGlobalCheckAt: t.lastGlobalCheckAt})
}

// MarkChannelUpdated flags a single channel as updated and needing a check.
func (t *UpdateTracker) MarkChannelUpdated(channelID int) error {
	return t.MarkChannelsUpdated([]int{channelID})
}

// MarkChannelsUpdated flags multiple channels as updated and needing a
// check in a single persisted write. It never touches
// LastCheckedStreamIDs - that's only ever set by MarkChannelChecked.
func (t *UpdateTracker) MarkChannelsUpdated(channelIDs []int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowFunc()
	for _, id := range channelIDs {
		rec := t.channels[id]
		rec.NeedsCheck = true
		rec.LastUpdatedAt = &now
		t.channels[id] = rec
	}
	return t.saveLocked()
}

// MarkChannelChecked is the ONLY way needsCheck is cleared for a channel.
// checkedStreamIDs becomes the watermark the pipeline's next incremental
// diff (step 3) reads back through LastCheckedStreamIDs (spec P2, step 10:
// mark_channel_checked(id, |S_now|, list(S_now))).
func (t *UpdateTracker) MarkChannelChecked(channelID, streamCount int, checkedStreamIDs []int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowFunc()
	rec := t.channels[channelID]
	rec.NeedsCheck = false
	rec.LastCheckedAt = &now
	rec.LastStreamCount = streamCount
	rec.LastCheckedStreamIDs = append([]int(nil), checkedStreamIDs...)
	t.channels[channelID] = rec
	return t.saveLocked()
}

// MarkGlobalCheck records that a global sweep ran, persisting the
// watermark so cron idempotence (scenario 4) survives a restart. It must
// never mutate needsCheck for any channel - a sweep covers every channel
// regardless of whether each one individually needed a check.
func (t *UpdateTracker) MarkGlobalCheck() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowFunc()
	t.lastGlobalCheckAt = &now
	return t.saveLocked()
}

// LastGlobalCheckAt returns the durable global-sweep watermark, zero if
// no sweep has ever run.
func (t *UpdateTracker) LastGlobalCheckAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastGlobalCheckAt == nil {
		return time.Time{}
	}
	return *t.lastGlobalCheckAt
}

// GetChannelsNeedingCheck returns the IDs of channels currently flagged as
// needing a check, without clearing anything.
func (t *UpdateTracker) GetChannelsNeedingCheck() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int, 0, len(t.channels))
	for id, rec := range t.channels {
		if rec.NeedsCheck {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsUpdated reports whether a channel has ever been marked updated.
func (t *UpdateTracker) IsUpdated(channelID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channels[channelID].LastUpdatedAt != nil
}

// LastCheckedStreamIDs returns the stream IDs covered by channelID's most
// recent MarkChannelChecked call - the pipeline's incremental-diff
// baseline (spec §4.F step 3).
func (t *UpdateTracker) LastCheckedStreamIDs(channelID int) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.channels[channelID].LastCheckedStreamIDs...)
}
