// Package pipeline implements ChannelCheckPipeline, the central algorithm
// of spec §4.F: resolve a channel, probe its candidate streams in
// parallel, classify and remove dead ones, score and reorder the
// survivors, and mark the tracker - all without ever issuing an upstream
// mutation before every probe in the batch has returned (P4).
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sbeimel/streamflow-sub002/internal/limiter"
	"github.com/sbeimel/streamflow-sub002/internal/matcher"
	"github.com/sbeimel/streamflow-sub002/internal/metrics"
	"github.com/sbeimel/streamflow-sub002/internal/model"
	"github.com/sbeimel/streamflow-sub002/internal/probe"
)

// UpstreamClient is the subset of *upstream.Client the pipeline needs,
// narrowed to an interface so tests can substitute a fake.
type UpstreamClient interface {
	ListChannels(ctx context.Context) ([]model.Channel, error)
	ListStreams(ctx context.Context) ([]model.Stream, error)
	ListM3UAccounts(ctx context.Context) ([]model.M3UAccount, error)
	PatchStreamStats(ctx context.Context, streamID int, stats model.StreamStats) error
	PatchChannelStreams(ctx context.Context, channelID int, streamIDs []int) error
	PatchProfileEnabled(ctx context.Context, profileID, channelID int, enabled bool) error
	RefreshM3UAccount(ctx context.Context, accountID int) error
}

// DeadRegistry is the subset of *deadstream.Registry the pipeline needs,
// keyed by the stream's canonical URL (spec §3: DeadStreamEntry is keyed
// by URL, not stream ID, so a stream surviving a candidate-matcher
// reassociation is still recognized).
type DeadRegistry interface {
	IsDead(url string) bool
	MarkDead(url string, channelID, streamID int, streamName string) error
	MarkAlive(url string) error
	ClearForChannel(channelURLs []string) error
}

// Tracker is the subset of *tracker.UpdateTracker the pipeline needs.
type Tracker interface {
	MarkChannelChecked(channelID, streamCount int, checkedStreamIDs []int) error
}

// ProbeExecutor runs one probe; satisfied by *probe.Executor.
type ProbeExecutor interface {
	Probe(ctx context.Context, url string) model.StreamStats
}

// Limiter bounds probe concurrency; satisfied by *limiter.ConcurrencyLimiter.
type Limiter interface {
	Acquire(ctx context.Context, accountID int) (limiter.Release, error)
}

// Changelog records one rolling-changelog entry per pipeline outcome (spec
// §7: "written on every per-channel pipeline outcome"); satisfied by
// *changelog.Log. Optional: a nil Changelog on Pipeline disables recording.
type Changelog interface {
	Record(ctx context.Context, channelID int, event, detail string) error
}

// DeadStreamPolicy decides whether a probed stream counts as dead and
// whether dead streams get pruned from the channel's association,
// resolved from spec §6's dead_stream_handling config block.
type DeadStreamPolicy struct {
	Enabled         bool
	MinWidth        int
	MinHeight       int
	MinBitrateKbps  int
	MinScore        float64
	RemoveOnDetect  bool
}

// IsDead implements spec §4.F step 7's predicate.
func (p DeadStreamPolicy) IsDead(stats model.StreamStats, score float64) bool {
	if !p.Enabled {
		return false
	}
	if stats.Status != model.StatusOK {
		return true
	}
	if stats.Resolution.W < p.MinWidth || stats.Resolution.H < p.MinHeight {
		return true
	}
	bitrate := 0
	if stats.FFmpegOutputBitrate != nil {
		bitrate = *stats.FFmpegOutputBitrate
	}
	if bitrate < p.MinBitrateKbps {
		return true
	}
	return score < p.MinScore
}

// Pipeline wires every collaborator the spec's ChannelCheckPipeline needs.
type Pipeline struct {
	Upstream      UpstreamClient
	DeadRegistry  DeadRegistry
	Tracker       Tracker
	Matcher       matcher.Matcher
	Probe         ProbeExecutor
	Limiter       Limiter
	Changelog     Changelog
	DeadPolicy    DeadStreamPolicy
	GlobalPriMode model.PriorityMode

	// LastCheckedStreamIDs is the tracker's per-channel watermark; callers
	// (the scheduler) own persistence of it through Tracker, but the
	// pipeline needs read access for the incremental diff in step 3.
	LastCheckedStreamIDs func(channelID int) []int

	StaggerDelay time.Duration
}

// Request describes one invocation of the pipeline.
type Request struct {
	ChannelID  int
	ForceCheck bool
}

// Result summarizes what the pipeline did, for changelog/metrics callers.
type Result struct {
	ChannelID      int
	StreamsProbed  int
	DeadCount      int
	Skipped        bool
	SkipReason     string
}

// Run executes steps 1-10 of the algorithm for one channel; step 11
// (re-enabling channels) is Reenabler.Run, which Run does not call.
func (p *Pipeline) Run(ctx context.Context, req Request, accounts []model.M3UAccount, allStreams []model.Stream) (Result, error) {
	start := time.Now()
	res := Result{ChannelID: req.ChannelID}

	// Step 1: resolve channel.
	channel, err := p.resolveChannel(ctx, req.ChannelID)
	if err != nil {
		metrics.IncPipelineRun("upstream_error")
		p.record(ctx, req.ChannelID, "failure", err.Error())
		return res, fmt.Errorf("pipeline: resolve channel %d: %w", req.ChannelID, err)
	}
	if channel == nil {
		metrics.IncPipelineRun("channel_missing")
		p.record(ctx, req.ChannelID, "skip", "channel not found upstream")
		res.Skipped = true
		res.SkipReason = "channel not found upstream"
		return res, nil
	}

	streamByID := indexStreams(allStreams)
	accountByID := indexAccounts(accounts)

	// Step 2: force-check pre-steps. Candidate-matcher reassociation itself
	// runs against the refreshed allStreams snapshot the caller supplies;
	// this pipeline only clears dead-stream state and triggers the refresh.
	if req.ForceCheck {
		_ = p.DeadRegistry.ClearForChannel(urlsForChannel(*channel, allStreams))
		for _, accountID := range accountIDsForChannel(*channel, allStreams) {
			_ = p.Upstream.RefreshM3UAccount(ctx, accountID)
		}
	}

	// Step 3: snapshot current stream IDs, decide the probe set.
	nowIDs := channel.StreamIDs
	var toProbe []int
	if req.ForceCheck {
		toProbe = append(toProbe, nowIDs...)
	} else {
		seen := make(map[int]bool)
		for _, id := range p.LastCheckedStreamIDs(channel.ID) {
			seen[id] = true
		}
		for _, id := range nowIDs {
			if !seen[id] {
				toProbe = append(toProbe, id)
			}
		}
	}

	// Step 4 + 5 + 6: pre-mark dead, parallel probe, collect all before mutate.
	results := make(map[int]model.StreamStats, len(toProbe))
	var resMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, streamID := range toProbe {
		streamID := streamID
		idx := i
		stream, ok := streamByID[streamID]
		if !ok {
			continue
		}

		if p.DeadRegistry.IsDead(stream.URL) {
			resMu.Lock()
			results[streamID] = probe.DeadStats(time.Now())
			resMu.Unlock()
			continue
		}

		accountID := 0
		if stream.M3UAccountID != nil {
			accountID = *stream.M3UAccountID
		}
		url := rewriteURL(stream.URL, accountByID[accountID])

		g.Go(func() error {
			if p.StaggerDelay > 0 && idx > 0 {
				select {
				case <-time.After(p.StaggerDelay):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			release, err := p.Limiter.Acquire(gctx, accountID)
			if err != nil {
				return nil // limiter cancellation: treat as absorbed, stream just isn't probed this round
			}
			defer release()

			stats := p.Probe.Probe(gctx, url)
			resMu.Lock()
			results[streamID] = stats
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // individual probe errors are absorbed into StreamStats; never abort the batch

	res.StreamsProbed = len(results)
	metrics.ObservePipelineStreamsProbed(len(results))

	// Step 7: classify dead; step 8: score and rank.
	finalStreamIDs := make([]int, 0, len(nowIDs))
	scored := make(map[int]float64, len(nowIDs))
	bucketCounts := make(map[int]int)

	for _, id := range nowIDs {
		stats, probed := results[id]
		if !probed {
			// carried over from a previous check (incremental diff skip).
			if s, ok := streamByID[id]; ok && s.StreamStats != nil {
				stats = *s.StreamStats
			}
		}
		bucketCounts[probe.ResolutionBucket(stats.Resolution.W, stats.Resolution.H)]++
	}

	for _, id := range nowIDs {
		stats, probed := results[id]
		if !probed {
			if s, ok := streamByID[id]; ok && s.StreamStats != nil {
				stats = *s.StreamStats
			}
		}

		s, hasStream := streamByID[id]
		accountID := 0
		if hasStream && s.M3UAccountID != nil {
			accountID = *s.M3UAccountID
		}
		account := accountByID[accountID]
		mode := model.EffectivePriorityMode(account.PriorityMode, p.GlobalPriMode)
		bucket := probe.ResolutionBucket(stats.Resolution.W, stats.Resolution.H)

		score := probe.Score(probe.ScoreInput{
			Stats:             stats,
			AccountPriority:   account.Priority,
			PriorityMode:      mode,
			OthersShareBucket: bucketCounts[bucket] > 1,
		})
		scored[id] = score

		if p.DeadPolicy.IsDead(stats, score) {
			res.DeadCount++
			if hasStream {
				_ = p.DeadRegistry.MarkDead(s.URL, channel.ID, id, s.Name)
			}
			if p.DeadPolicy.RemoveOnDetect {
				continue
			}
		} else if hasStream {
			_ = p.DeadRegistry.MarkAlive(s.URL)
		}
		finalStreamIDs = append(finalStreamIDs, id)

		// Step 9: PATCH stream_stats for every stream actually probed this round.
		if probed {
			_ = p.Upstream.PatchStreamStats(ctx, id, stats)
		}
	}

	sort.SliceStable(finalStreamIDs, func(i, j int) bool {
		return scored[finalStreamIDs[i]] > scored[finalStreamIDs[j]]
	})
	if err := p.Upstream.PatchChannelStreams(ctx, channel.ID, finalStreamIDs); err != nil {
		metrics.IncPipelineRun("upstream_error")
	}

	// Step 10: mark tracker checked.
	_ = p.Tracker.MarkChannelChecked(channel.ID, len(nowIDs), nowIDs)

	metrics.IncPipelineRun("success")
	metrics.ObservePipelineDuration(time.Since(start).Seconds())
	p.record(ctx, channel.ID, "success", fmt.Sprintf("probed=%d dead=%d", res.StreamsProbed, res.DeadCount))
	return res, nil
}

// record writes one rolling-changelog entry, absorbing any failure: the
// changelog is an observability aid, never a reason to fail a check.
func (p *Pipeline) record(ctx context.Context, channelID int, event, detail string) {
	if p.Changelog == nil {
		return
	}
	_ = p.Changelog.Record(ctx, channelID, event, detail)
}

func (p *Pipeline) resolveChannel(ctx context.Context, channelID int) (*model.Channel, error) {
	channels, err := p.Upstream.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	for i := range channels {
		if channels[i].ID == channelID {
			return &channels[i], nil
		}
	}
	return nil, nil
}

func indexStreams(streams []model.Stream) map[int]model.Stream {
	m := make(map[int]model.Stream, len(streams))
	for _, s := range streams {
		m[s.ID] = s
	}
	return m
}

func indexAccounts(accounts []model.M3UAccount) map[int]model.M3UAccount {
	m := make(map[int]model.M3UAccount, len(accounts))
	for _, a := range accounts {
		m[a.ID] = a
	}
	return m
}

func accountIDsForChannel(ch model.Channel, all []model.Stream) []int {
	set := make(map[int]bool, len(ch.StreamIDs))
	for _, id := range ch.StreamIDs {
		set[id] = true
	}
	seen := make(map[int]bool)
	var ids []int
	for _, s := range all {
		if set[s.ID] && s.M3UAccountID != nil && !seen[*s.M3UAccountID] {
			seen[*s.M3UAccountID] = true
			ids = append(ids, *s.M3UAccountID)
		}
	}
	return ids
}

// urlsForChannel returns the canonical (pre-rewrite) URLs of every stream
// currently associated with ch, used by DeadRegistry.ClearForChannel
// (spec §4.C clear_for_channel(channel_urls)).
func urlsForChannel(ch model.Channel, all []model.Stream) []string {
	set := make(map[int]bool, len(ch.StreamIDs))
	for _, id := range ch.StreamIDs {
		set[id] = true
	}
	var urls []string
	for _, s := range all {
		if set[s.ID] {
			urls = append(urls, s.URL)
		}
	}
	return urls
}

// rewriteURL applies the account's URL rewrite pattern/replacement before
// probing; probing never mutates the stored URL (spec §4.F step 5).
func rewriteURL(url string, account model.M3UAccount) string {
	if account.URLRewritePattern == "" {
		return url
	}
	re, err := compileRewrite(account.URLRewritePattern)
	if err != nil {
		return url
	}
	return re.ReplaceAllString(url, account.URLRewriteReplace)
}
