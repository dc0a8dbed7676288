package pipeline

import (
	"context"

	"github.com/sbeimel/streamflow-sub002/internal/metrics"
	"github.com/sbeimel/streamflow-sub002/internal/model"
)

// Reenabler runs spec §4.F step 11 as a standalone pass: any channel
// disabled in a tracked profile whose stream set now contains at least one
// non-dead stream is re-enabled via upstream PATCH. Pipeline.Run does not
// call it, and neither the scheduler nor cmd/schedulerd invokes Run; it
// runs only when a caller calls Run directly.
type Reenabler struct {
	Upstream     UpstreamClient
	DeadRegistry DeadRegistry
}

// Run scans channels and, for every (channel, profile) pair where the
// channel is currently disabled and has at least one live stream, issues a
// re-enable PATCH. streams resolves each channel's stream IDs to the URLs
// DeadRegistry is keyed by.
func (r *Reenabler) Run(ctx context.Context, channels []model.Channel, profiles []model.ChannelProfile, streams []model.Stream) int {
	streamByID := indexStreams(streams)
	reenabled := 0
	for _, ch := range channels {
		if !hasLiveStream(ch, r.DeadRegistry, streamByID) {
			continue
		}
		for profileID, enabled := range ch.EnabledPerProfile {
			if enabled {
				continue
			}
			if err := r.Upstream.PatchProfileEnabled(ctx, profileID, ch.ID, true); err == nil {
				reenabled++
			}
		}
	}
	if reenabled > 0 {
		metrics.IncChannelsReenabled(reenabled)
	}
	return reenabled
}

func hasLiveStream(ch model.Channel, registry DeadRegistry, streamByID map[int]model.Stream) bool {
	for _, id := range ch.StreamIDs {
		s, ok := streamByID[id]
		if !ok {
			continue
		}
		if !registry.IsDead(s.URL) {
			return true
		}
	}
	return false
}
