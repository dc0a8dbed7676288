// Package deadstream tracks streams that have been classified Dead by the
// probe pipeline so later checks can skip re-probing them, grounded on the
// teacher's internal/state registry pattern and persisted write-through via
// internal/store.
package deadstream

import (
	"sync"
	"time"

	"github.com/sbeimel/streamflow-sub002/internal/store"
)

// record is the persisted DeadStreamEntry (spec §3/§6): stream_id,
// stream_name, channel_id, marked_dead_at. The map it lives in is keyed by
// the stream's URL, not its ID - a stream surviving a candidate-matcher
// reassociation keeps the same URL even when its upstream ID changes, and
// "is this URL still serving dead content" is the question cleanup/
// clear_for_channel actually need answered.
type record struct {
	StreamID   int       `json:"stream_id"`
	StreamName string    `json:"stream_name"`
	ChannelID  int       `json:"channel_id,omitempty"`
	MarkedAt   time.Time `json:"marked_dead_at"`
}

type persisted struct {
	Dead map[string]record `json:"dead"` // keyed by stream URL
}

// Registry records which stream URLs are currently considered dead, with
// enough per-entry detail (channel, stream ID/name) that CountForChannel
// and ClearForChannel can operate without an auxiliary index.
type Registry struct {
	mu      sync.Mutex
	dead    map[string]record
	path    string
	nowFunc func() time.Time
}

// New creates a Registry backed by path (empty disables persistence).
func New(path string) (*Registry, error) {
	r := &Registry{dead: make(map[string]record), path: path, nowFunc: time.Now}
	if path == "" {
		return r, nil
	}
	var p persisted
	if err := store.LoadJSON(path, &p); err != nil {
		return nil, err
	}
	if p.Dead != nil {
		r.dead = p.Dead
	}
	return r, nil
}

func (r *Registry) saveLocked() error {
	if r.path == "" {
		return nil
	}
	return store.SaveJSON(r.path, persisted{Dead: r.dead})
}

// MarkDead records url (the stream's canonical, pre-rewrite URL) as dead.
func (r *Registry) MarkDead(url string, channelID, streamID int, streamName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dead[url] = record{StreamID: streamID, StreamName: streamName, ChannelID: channelID, MarkedAt: r.nowFunc()}
	return r.saveLocked()
}

// MarkAlive removes url from the dead set (a probe revived it).
func (r *Registry) MarkAlive(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.dead[url]; !ok {
		return nil
	}
	delete(r.dead, url)
	return r.saveLocked()
}

// IsDead reports whether url is currently marked dead.
func (r *Registry) IsDead(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.dead[url]
	return ok
}

// CountForChannel returns how many of channelID's streams are marked dead.
func (r *Registry) CountForChannel(channelID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.dead {
		if rec.ChannelID == channelID {
			n++
		}
	}
	return n
}

// ClearForChannel implements spec §4.C's clear_for_channel(channel_urls):
// remove every dead-stream entry whose URL is in channelURLs. Invoked at
// the start of a single-channel force-check so a previously-dead URL can
// be probed again once the channel's association is rebuilt (B3).
func (r *Registry) ClearForChannel(channelURLs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, url := range channelURLs {
		delete(r.dead, url)
	}
	return r.saveLocked()
}

// Cleanup implements spec §4.C's cleanup(current_urls): remove every
// dead-stream entry whose URL is not in currentURLs, returning how many
// were pruned. Invoked after each playlist refresh so the registry doesn't
// grow unbounded with streams upstream has since deleted.
func (r *Registry) Cleanup(currentURLs []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := make(map[string]bool, len(currentURLs))
	for _, u := range currentURLs {
		keep[u] = true
	}
	removed := 0
	for url := range r.dead {
		if !keep[url] {
			delete(r.dead, url)
			removed++
		}
	}
	if removed > 0 {
		if err := r.saveLocked(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
