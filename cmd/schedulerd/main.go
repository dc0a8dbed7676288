// Command schedulerd runs the StreamFlow stream-quality scheduler core:
// it loads configuration, wires the queue/tracker/pipeline/scheduler
// subsystems, and serves the HTTP control surface until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbeimel/streamflow-sub002/internal/cache"
	"github.com/sbeimel/streamflow-sub002/internal/changelog"
	"github.com/sbeimel/streamflow-sub002/internal/config"
	"github.com/sbeimel/streamflow-sub002/internal/control"
	"github.com/sbeimel/streamflow-sub002/internal/deadstream"
	"github.com/sbeimel/streamflow-sub002/internal/limiter"
	xflog "github.com/sbeimel/streamflow-sub002/internal/log"
	"github.com/sbeimel/streamflow-sub002/internal/matcher"
	"github.com/sbeimel/streamflow-sub002/internal/model"
	"github.com/sbeimel/streamflow-sub002/internal/pipeline"
	"github.com/sbeimel/streamflow-sub002/internal/probe"
	"github.com/sbeimel/streamflow-sub002/internal/queue"
	"github.com/sbeimel/streamflow-sub002/internal/scheduler"
	"github.com/sbeimel/streamflow-sub002/internal/telemetry"
	"github.com/sbeimel/streamflow-sub002/internal/tracker"
	"github.com/sbeimel/streamflow-sub002/internal/upstream"
)

var (
	version = "v0.1.0"
	commit  = "none"
)

func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url-redacted"
	}
	u.User = nil
	return u.String()
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("schedulerd %s (commit %s)\n", version, commit)
		os.Exit(0)
	}

	xflog.Configure(xflog.Config{Level: "info", Service: "streamflow", Version: version})
	logger := xflog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, err := config.NewLoader(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	cfg := loader.Current()

	xflog.Configure(xflog.Config{Level: cfg.LogLevel, Service: "streamflow", Version: version})
	logger = xflog.WithComponent("main")
	logger.Info().Str("upstream", maskURL(cfg.UpstreamBaseURL)).Msg("configuration loaded")

	if err := loader.WatchFile(); err != nil {
		logger.Warn().Err(err).Msg("config hot-reload disabled")
	}
	defer loader.Close()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "streamflow-scheduler",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	tr, err := tracker.New(cfg.StatePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open update tracker state")
	}

	deadRegistry, err := deadstream.New(cfg.StatePath + ".deadstreams")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open dead-stream registry")
	}

	clog, err := changelog.Open(cfg.ChangelogPath, 500)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open changelog store")
	}
	defer clog.Close()

	appCache := buildCache(cfg, logger)

	q := queue.New(cfg.Queue.MaxSize)

	lim := limiter.New(cfg.Concurrency.GlobalMax, cfg.Concurrency.StaggerEvery, cfg.Concurrency.StaggerDelay)

	client := upstream.New(cfg.UpstreamBaseURL, upstream.StaticToken(cfg.UpstreamToken))

	duration, timeout, _ := cfg.StreamAnalysis.PipelineMode.Budget()
	executor := probe.NewExecutor(
		probe.CommandInspector{BinaryPath: "ffmpeg", BuildArgs: buildFFmpegArgs, Duration: duration},
		duration, timeout,
		probe.Retry{MaxRetries: cfg.StreamAnalysis.MaxRetries, Delay: time.Duration(cfg.StreamAnalysis.RetryDelaySeconds) * time.Second},
		"StreamFlow/1.0",
	)

	m := matcher.New(cfg.CaseSensitiveMatching)

	p := &pipeline.Pipeline{
		Upstream:     client,
		DeadRegistry: deadRegistry,
		Tracker:      tr,
		Matcher:      m,
		Probe:        executor,
		Limiter:      lim,
		Changelog:    clog,
		DeadPolicy: pipeline.DeadStreamPolicy{
			Enabled:        cfg.DeadStream.Enabled,
			MinWidth:       cfg.DeadStream.MinResolutionWidth,
			MinHeight:      cfg.DeadStream.MinResolutionHeight,
			MinBitrateKbps: cfg.DeadStream.MinBitrateKbps,
			MinScore:       cfg.DeadStream.MinScore,
			RemoveOnDetect: cfg.DeadStream.RemoveOnForceCheck,
		},
		GlobalPriMode:        model.PriorityMode(cfg.GlobalPriorityMode),
		LastCheckedStreamIDs: tr.LastCheckedStreamIDs,
		StaggerDelay:         cfg.Concurrency.StaggerDelay,
	}

	var cronMinute, cronHour int
	fmt.Sscanf(cfg.Cron.Schedule, "%d %d", &cronMinute, &cronHour)

	sched := scheduler.New(q, tr, p, scheduler.CronActions{
		Cache:           appCache,
		DeadRegistry:    deadRegistry,
		ListChannels:    client.ListChannels,
		ListStreams:     client.ListStreams,
		ListM3UAccounts: client.ListM3UAccounts,
	}, scheduler.Schedule{Enabled: cfg.Cron.Enabled, Hour: cronHour, Minute: cronMinute}, 3)
	sched.Start(ctx)

	router := control.NewRouter(schedulerTrigger{sched}, control.Config{})
	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("control surface listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("control surface crashed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	sched.Shutdown()
	logger.Info().Msg("shutdown complete")
}

func buildCache(cfg config.Snapshot, logger zerolog.Logger) cache.Cache {
	switch cfg.CacheBackend {
	case "redis":
		c, err := cache.NewRedisCache(cache.RedisConfig{Addr: cfg.CacheAddr}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis cache unavailable, falling back to memory cache")
			return cache.NewMemoryCache(5 * time.Minute)
		}
		return c
	case "badger":
		c, err := cache.NewBadgerCache(cfg.CacheAddr, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("badger cache unavailable, falling back to memory cache")
			return cache.NewMemoryCache(5 * time.Minute)
		}
		return c
	default:
		return cache.NewMemoryCache(5 * time.Minute)
	}
}

// buildFFmpegArgs assembles the inspector invocation. ffmpeg reads the
// stream for duration (-t), the same span the bitrate parser divides the
// bytes read by; the executor's own context bounds the whole subprocess at
// duration + timeout + startup buffer.
func buildFFmpegArgs(rawURL, userAgent string, duration time.Duration) []string {
	return []string{
		"-user_agent", userAgent,
		"-i", rawURL,
		"-t", fmt.Sprint(int(duration.Seconds())),
		"-f", "null",
		"-",
	}
}

// schedulerTrigger adapts *scheduler.Scheduler to control.Trigger: the two
// packages define independent Status types so control never imports
// scheduler, so this boundary adapter does the field-for-field conversion.
type schedulerTrigger struct {
	s *scheduler.Scheduler
}

func (t schedulerTrigger) CheckSingleChannel(channelID int) bool { return t.s.CheckSingleChannel(channelID) }

func (t schedulerTrigger) CheckAllChannels(ctx context.Context) { t.s.CheckAllChannels(ctx) }

func (t schedulerTrigger) GetStatus() control.Status {
	st := t.s.GetStatus()
	return control.Status{
		Queued:             st.Queued,
		InProgress:         st.InProgress,
		LastGlobalCheckAt:  st.LastGlobalCheckAt,
		GlobalActionActive: st.GlobalActionActive,
		StreamCheckingMode: st.StreamCheckingMode,
	}
}
