// Package scheduler runs the three long-running loops described in spec
// §4.G - worker, cron, dirty-queue - sharing a single
// global_action_in_progress guard, and exposes the Trigger API (§4.H) the
// control surface calls into. Grounded on the teacher's daemon-loop
// shutdown pattern: signal.NotifyContext plus a WaitGroup-bounded grace
// period.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbeimel/streamflow-sub002/internal/cache"
	"github.com/sbeimel/streamflow-sub002/internal/log"
	"github.com/sbeimel/streamflow-sub002/internal/matcher"
	"github.com/sbeimel/streamflow-sub002/internal/metrics"
	"github.com/sbeimel/streamflow-sub002/internal/model"
	"github.com/sbeimel/streamflow-sub002/internal/pipeline"
	"github.com/sbeimel/streamflow-sub002/internal/queue"
	"github.com/sbeimel/streamflow-sub002/internal/tracker"
)

// Tracker is the subset of *tracker.UpdateTracker the scheduler needs.
type Tracker interface {
	MarkChannelsUpdated(channelIDs []int) error
	MarkGlobalCheck() error
	GetChannelsNeedingCheck() []int
	LastGlobalCheckAt() time.Time
}

var _ Tracker = (*tracker.UpdateTracker)(nil)

// Queue is the subset of *queue.CheckQueue the scheduler needs.
type Queue interface {
	Add(channelID, priority int) bool
	AddBulk(channelIDs []int, priority int) int
	Next() (int, bool)
	MarkCompleted(channelID int)
	RemoveFromCompleted(channelID int)
	Len() int
}

var _ Queue = (*queue.CheckQueue)(nil)

// Status is the get_status snapshot (spec §4.H).
type Status struct {
	Queued             int
	InProgress         int
	LastGlobalCheckAt  time.Time
	GlobalActionActive bool
	StreamCheckingMode bool
}

// Schedule configures Loop 2 (cron).
type Schedule struct {
	Enabled bool
	Hour    int
	Minute  int
}

// DeadRegistryCleaner is the subset of *deadstream.Registry the scheduler
// needs to run spec §4.C's cleanup(current_urls) after each playlist
// refresh.
type DeadRegistryCleaner interface {
	Cleanup(currentURLs []string) (int, error)
}

// CronActions bundles the collaborators _perform_global_action touches,
// narrowed to interfaces the scheduler needs (spec §4.G Loop 2).
type CronActions struct {
	Cache            cache.Cache
	RefreshPlaylists func(ctx context.Context) error
	Matcher          matcher.Matcher
	DeadRegistry     DeadRegistryCleaner
	ListChannels     func(ctx context.Context) ([]model.Channel, error)
	ListGroups       func(ctx context.Context) ([]model.ChannelGroup, error)
	ListSettings     func(ctx context.Context) ([]model.ChannelSettings, error)
	ListStreams      func(ctx context.Context) ([]model.Stream, error)
	ListM3UAccounts  func(ctx context.Context) ([]model.M3UAccount, error)
}

// cronCacheTTL bounds how long the worker/cron paths trust a cached
// streams/accounts snapshot before re-fetching from upstream.
const cronCacheTTL = 5 * time.Minute

// Scheduler drives the worker/cron/dirty-queue loops against one
// in-progress guard, and runs ChannelCheckPipeline.Run per dequeued
// channel.
type Scheduler struct {
	Queue    Queue
	Tracker  Tracker
	Pipeline *pipeline.Pipeline
	Cron     CronActions
	Schedule Schedule

	WorkerCount  int
	GraceTimeout time.Duration

	globalActionInProgress atomic.Bool
	inProgressChannel      atomic.Int64

	wg sync.WaitGroup
}

// New creates a Scheduler with the given worker pool size (default 1).
func New(q Queue, tr Tracker, p *pipeline.Pipeline, cron CronActions, sched Schedule, workerCount int) *Scheduler {
	if workerCount <= 0 {
		workerCount = 1
	}
	s := &Scheduler{
		Queue:        q,
		Tracker:      tr,
		Pipeline:     p,
		Cron:         cron,
		Schedule:     sched,
		WorkerCount:  workerCount,
		GraceTimeout: 60 * time.Second,
	}
	return s
}

// Start launches all three loops; they run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.WorkerCount; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx)
	}
	s.wg.Add(1)
	go s.cronLoop(ctx)
	s.wg.Add(1)
	go s.dirtyQueueLoop(ctx)
}

// Shutdown waits up to GraceTimeout for the loops and in-flight work to
// drain. It does not cancel the loops itself: the caller cancels the
// context it passed to Start before calling Shutdown.
func (s *Scheduler) Shutdown() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.GraceTimeout):
		log.WithComponent("scheduler").Warn().Msg("grace period elapsed with loops still draining")
	}
}

// workerLoop is Loop 1 (§4.G): the only loop not gated by the global
// guard, since a sweep must be able to drain its own queue.
func (s *Scheduler) workerLoop(ctx context.Context) {
	defer s.wg.Done()
	logger := log.WithComponent("scheduler.worker")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		channelID, ok := s.Queue.Next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		s.inProgressChannel.Store(int64(channelID))
		s.runOne(ctx, channelID, logger)
		s.inProgressChannel.Store(0)
		s.Queue.MarkCompleted(channelID)
	}
}

func (s *Scheduler) runOne(ctx context.Context, channelID int, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).Int("channel_id", channelID).
				Msg("recovered from panic in channel check pipeline")
		}
	}()
	if s.Pipeline == nil {
		return
	}
	streams := s.cachedStreams(ctx)
	accounts := s.cachedAccounts(ctx)
	_, _ = s.Pipeline.Run(ctx, pipeline.Request{ChannelID: channelID}, accounts, streams)
}

// cachedStreams serves the worker/cron paths' stream snapshot from
// s.Cron.Cache, falling back to a direct ListStreams fetch (and
// populating the cache) on a miss - spec §4.G step 2's "refresh external
// data cache" applied lazily on the read side too, so a worker never
// blocks on a sweep to populate it.
func (s *Scheduler) cachedStreams(ctx context.Context) []model.Stream {
	if s.Cron.Cache != nil {
		if v, ok := s.Cron.Cache.Get("streams"); ok {
			if streams, ok := v.([]model.Stream); ok {
				return streams
			}
		}
	}
	if s.Cron.ListStreams == nil {
		return nil
	}
	streams, err := s.Cron.ListStreams(ctx)
	if err != nil {
		return nil
	}
	if s.Cron.Cache != nil {
		s.Cron.Cache.Set("streams", streams, cronCacheTTL)
	}
	return streams
}

// cachedAccounts is cachedStreams' counterpart for M3U accounts.
func (s *Scheduler) cachedAccounts(ctx context.Context) []model.M3UAccount {
	if s.Cron.Cache != nil {
		if v, ok := s.Cron.Cache.Get("m3u_accounts"); ok {
			if accounts, ok := v.([]model.M3UAccount); ok {
				return accounts
			}
		}
	}
	if s.Cron.ListM3UAccounts == nil {
		return nil
	}
	accounts, err := s.Cron.ListM3UAccounts(ctx)
	if err != nil {
		return nil
	}
	if s.Cron.Cache != nil {
		s.Cron.Cache.Set("m3u_accounts", accounts, cronCacheTTL)
	}
	return accounts
}

// cronLoop is Loop 2 (§4.G).
func (s *Scheduler) cronLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeRunGlobalSweep(ctx)
		}
	}
}

func (s *Scheduler) maybeRunGlobalSweep(ctx context.Context) {
	if !s.Schedule.Enabled {
		return
	}
	now := time.Now()
	if now.Hour() != s.Schedule.Hour || now.Minute() != s.Schedule.Minute {
		return
	}
	last := s.Tracker.LastGlobalCheckAt()
	if sameCalendarDay(last, now) {
		return
	}
	s.performGlobalAction(ctx)
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// performGlobalAction runs the global sweep: clear the cache, refresh
// playlists, re-fetch streams and accounts, clean up the dead-stream
// registry, enqueue every eligible channel, and mark the global check. It
// does not run the candidate matcher; CronActions.Matcher is not used.
func (s *Scheduler) performGlobalAction(ctx context.Context) {
	s.globalActionInProgress.Store(true)
	metrics.SetGlobalActionInProgress(true)
	defer func() {
		s.globalActionInProgress.Store(false)
		metrics.SetGlobalActionInProgress(false)
	}()

	logger := log.WithComponent("scheduler.cron")

	if s.Cron.Cache != nil {
		s.Cron.Cache.Clear()
	}
	if s.Cron.RefreshPlaylists != nil {
		if err := s.Cron.RefreshPlaylists(ctx); err != nil {
			logger.Warn().Err(err).Msg("playlist refresh failed during global sweep")
		}
	}

	// Step 2: refresh the external data cache the worker loop reads from,
	// right after the clear above so every channel this sweep enqueues
	// gets a fresh snapshot rather than the one Clear() just dropped.
	streams := s.cachedStreams(ctx)
	_ = s.cachedAccounts(ctx)

	if s.Cron.DeadRegistry != nil {
		urls := make([]string, 0, len(streams))
		for _, st := range streams {
			urls = append(urls, st.URL)
		}
		if _, err := s.Cron.DeadRegistry.Cleanup(urls); err != nil {
			logger.Warn().Err(err).Msg("dead-stream registry cleanup failed during global sweep")
		}
	}

	eligible := s.eligibleChannelIDs(ctx, logger)
	s.Queue.AddBulk(eligible, 10)

	if err := s.Tracker.MarkGlobalCheck(); err != nil {
		logger.Warn().Err(err).Msg("failed to persist global check watermark")
	}
	metrics.IncGlobalSweep()
}

// eligibleChannelIDs implements spec §4.G's eligibility rule: a channel is
// eligible iff its own checking_mode (or the inherited group mode) isn't
// disabled.
func (s *Scheduler) eligibleChannelIDs(ctx context.Context, logger zerolog.Logger) []int {
	if s.Cron.ListChannels == nil {
		return nil
	}
	channels, err := s.Cron.ListChannels(ctx)
	if err != nil {
		return nil
	}
	groups := map[int]model.ChannelGroup{}
	if s.Cron.ListGroups != nil {
		if gs, err := s.Cron.ListGroups(ctx); err == nil {
			for _, g := range gs {
				groups[g.ID] = g
			}
		}
	}
	settings := map[int]model.ChannelSettings{}
	if s.Cron.ListSettings != nil {
		if ss, err := s.Cron.ListSettings(ctx); err == nil {
			for _, st := range ss {
				settings[st.ChannelID] = st
			}
		}
	}

	var ids []int
	for _, ch := range channels {
		channelMode := settings[ch.ID].CheckingMode
		groupMode := model.CheckingModeInherit
		if ch.GroupID != nil {
			groupMode = groups[*ch.GroupID].CheckingMode
		}
		if model.EffectiveCheckingMode(channelMode, groupMode) != model.CheckingModeDisabled {
			ids = append(ids, ch.ID)
		}
	}
	return ids
}

// dirtyQueueLoop is Loop 3 (§4.G); a no-op while a global sweep is active.
func (s *Scheduler) dirtyQueueLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.globalActionInProgress.Load() {
				continue
			}
			for _, id := range s.Tracker.GetChannelsNeedingCheck() {
				s.Queue.RemoveFromCompleted(id)
				s.Queue.Add(id, 20)
			}
		}
	}
}

// CheckSingleChannel is the Trigger API's check_single_channel (§4.H):
// enqueues at the highest priority (0). It does not force a full check:
// the worker runs every dequeued channel as an incremental check.
func (s *Scheduler) CheckSingleChannel(channelID int) bool {
	return s.Queue.Add(channelID, 0)
}

// CheckAllChannels is the Trigger API's check_all_channels (§4.H).
func (s *Scheduler) CheckAllChannels(ctx context.Context) {
	s.performGlobalAction(ctx)
}

// GetStatus is the Trigger API's get_status (§4.H).
func (s *Scheduler) GetStatus() Status {
	last := s.Tracker.LastGlobalCheckAt()
	queued := s.Queue.Len()
	inProgress := 0
	checking := s.inProgressChannel.Load() != 0
	if checking {
		inProgress = 1
	}
	return Status{
		Queued:             queued,
		InProgress:         inProgress,
		LastGlobalCheckAt:  last,
		GlobalActionActive: s.globalActionInProgress.Load(),
		StreamCheckingMode: s.globalActionInProgress.Load() || checking || queued > 0,
	}
}
