// Package config loads and hot-reloads StreamFlow's runtime configuration,
// adapted from the teacher's internal/config loader: ENV overrides a YAML
// file which overrides built-in defaults, and the merged result is exposed
// as an immutable Snapshot so collaborators never observe a half-applied
// reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/sbeimel/streamflow-sub002/internal/log"
)

// PipelineMode selects an ffprobe wall-clock budget (spec §9, resolved).
type PipelineMode string

const (
	PipelineDisabled  PipelineMode = "disabled"
	Pipeline1         PipelineMode = "pipeline_1"
	Pipeline1_5       PipelineMode = "pipeline_1_5"
	Pipeline2         PipelineMode = "pipeline_2"
	Pipeline2_5       PipelineMode = "pipeline_2_5"
	Pipeline3         PipelineMode = "pipeline_3"
	startupBufferSecs            = 10
)

// pipelineBudget holds the (duration_s, timeout_s) pair for a PipelineMode.
type pipelineBudget struct {
	DurationSeconds int
	TimeoutSeconds  int
}

var pipelineBudgets = map[PipelineMode]pipelineBudget{
	Pipeline1:   {DurationSeconds: 8, TimeoutSeconds: 4},
	Pipeline1_5: {DurationSeconds: 12, TimeoutSeconds: 6},
	Pipeline2:   {DurationSeconds: 16, TimeoutSeconds: 8},
	Pipeline2_5: {DurationSeconds: 24, TimeoutSeconds: 10},
	Pipeline3:   {DurationSeconds: 32, TimeoutSeconds: 12},
}

// Budget returns the probe duration/timeout for m, and whether probing is
// enabled at all (false for PipelineDisabled or an unrecognized mode).
func (m PipelineMode) Budget() (duration, timeout time.Duration, ok bool) {
	b, found := pipelineBudgets[m]
	if !found {
		return 0, 0, false
	}
	return time.Duration(b.DurationSeconds) * time.Second, time.Duration(b.TimeoutSeconds) * time.Second, true
}

// WallClockTimeout is the hard subprocess kill deadline: duration_s +
// timeout_s + a fixed startup buffer, per spec §4 probe executor notes.
func (m PipelineMode) WallClockTimeout() (time.Duration, bool) {
	d, t, ok := m.Budget()
	if !ok {
		return 0, false
	}
	return d + t + startupBufferSecs*time.Second, true
}

// DeadStreamHandling controls whether dead streams are skip-probed,
// whether they're pruned from a channel's stream list (RemoveOnForceCheck
// prunes on every check, forced or incremental),
// and the thresholds DeadStreamPolicy.IsDead classifies a probed stream
// against (spec §6).
type DeadStreamHandling struct {
	Enabled             bool    `yaml:"enabled"`
	RemoveOnForceCheck  bool    `yaml:"remove_on_force_check"`
	MinResolutionWidth  int     `yaml:"min_resolution_width"`
	MinResolutionHeight int     `yaml:"min_resolution_height"`
	MinBitrateKbps      int     `yaml:"min_bitrate_kbps"`
	MinScore            float64 `yaml:"min_score"`
}

// QueueSettings bounds the CheckQueue.
type QueueSettings struct {
	MaxSize int `yaml:"max_size"`
}

// StreamAnalysis controls ffprobe invocation and scoring.
type StreamAnalysis struct {
	PipelineMode       PipelineMode `yaml:"pipeline_mode"`
	MaxRetries         int          `yaml:"max_retries"`
	RetryDelaySeconds  int          `yaml:"retry_delay_seconds"`
	PreferredCodecs    []string     `yaml:"preferred_codecs"`
	MinAcceptableFPS   float64      `yaml:"min_acceptable_fps"`
}

// CronSettings controls the periodic global sweep.
type CronSettings struct {
	Enabled          bool   `yaml:"enabled"`
	Schedule         string `yaml:"global_check_schedule"`
	ValidateExisting bool   `yaml:"validate_existing_streams"`
}

// ConcurrencySettings bounds probe parallelism.
type ConcurrencySettings struct {
	GlobalMax    int           `yaml:"concurrent_streams"`
	StaggerEvery int           `yaml:"stagger_every"`
	StaggerDelay time.Duration `yaml:"-"`
	StaggerDelayRaw string     `yaml:"stagger_delay"`
}

// AppConfig is the fully merged, validated configuration tree.
type AppConfig struct {
	UpstreamBaseURL string              `yaml:"upstream_base_url"`
	UpstreamToken   string              `yaml:"upstream_token"`
	StatePath       string              `yaml:"state_path"`
	ChangelogPath   string              `yaml:"changelog_path"`
	CacheBackend    string              `yaml:"cache_backend"` // memory|badger|redis
	CacheAddr       string              `yaml:"cache_addr"`
	ListenAddr      string              `yaml:"listen_addr"`
	LogLevel        string              `yaml:"log_level"`
	Concurrency     ConcurrencySettings `yaml:"concurrency"`
	Queue           QueueSettings       `yaml:"queue"`
	StreamAnalysis  StreamAnalysis      `yaml:"stream_analysis"`
	DeadStream      DeadStreamHandling  `yaml:"dead_stream_handling"`
	Cron            CronSettings        `yaml:"cron"`
	GlobalPriorityMode string           `yaml:"global_priority_mode"`
	CaseSensitiveMatching bool          `yaml:"case_sensitive_matching"`
	TracingEnabled  bool                `yaml:"tracing_enabled"`
	OTLPEndpoint    string              `yaml:"otlp_endpoint"`
}

func defaults() AppConfig {
	return AppConfig{
		StatePath:     "/var/lib/streamflow/state.json",
		ChangelogPath: "/var/lib/streamflow/changelog.db",
		CacheBackend:  "memory",
		ListenAddr:    ":9108",
		LogLevel:      "info",
		Concurrency: ConcurrencySettings{
			GlobalMax:       5,
			StaggerEvery:    3,
			StaggerDelayRaw: "2s",
		},
		Queue: QueueSettings{MaxSize: 500},
		StreamAnalysis: StreamAnalysis{
			PipelineMode:      Pipeline2,
			MaxRetries:        1,
			RetryDelaySeconds: 2,
			MinAcceptableFPS:  15,
		},
		DeadStream: DeadStreamHandling{
			Enabled:             true,
			RemoveOnForceCheck:  true,
			MinResolutionWidth:  0,
			MinResolutionHeight: 0,
			MinBitrateKbps:      1,
			MinScore:            0,
		},
		Cron: CronSettings{
			Enabled:          true,
			Schedule:         "0 4 * * *",
			ValidateExisting: true,
		},
		GlobalPriorityMode: "disabled",
	}
}

// Snapshot is an immutable view handed to collaborators. Reloads replace
// the pointer atomically under Loader's mutex; holders of an old Snapshot
// never see a torn read.
type Snapshot struct {
	*AppConfig
}

// Loader owns the merged configuration and (optionally) watches its source
// file for hot reload via fsnotify, matching the teacher's pattern of a
// single watched config file driving atomic snapshot swaps.
type Loader struct {
	mu       sync.RWMutex
	path     string
	current  Snapshot
	watcher  *fsnotify.Watcher
	onChange func(Snapshot)
}

// NewLoader reads path (if it exists) over the built-in defaults, applies
// environment overrides, and validates the result.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Current returns the latest validated Snapshot.
func (l *Loader) Current() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after every successful reload.
func (l *Loader) OnChange(fn func(Snapshot)) { l.onChange = fn }

func (l *Loader) reload() error {
	cfg := defaults()

	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: read %s: %w", l.path, err)
		}
		if err == nil {
			if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
				return fmt.Errorf("config: parse %s: %w", l.path, uerr)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}

	if cfg.Concurrency.StaggerDelayRaw != "" {
		d, err := time.ParseDuration(cfg.Concurrency.StaggerDelayRaw)
		if err != nil {
			return fmt.Errorf("config: stagger_delay: %w", err)
		}
		cfg.Concurrency.StaggerDelay = d
	}

	snap := Snapshot{AppConfig: &cfg}

	l.mu.Lock()
	l.current = snap
	l.mu.Unlock()

	if l.onChange != nil {
		l.onChange(snap)
	}
	return nil
}

func validate(cfg *AppConfig) error {
	if cfg.Concurrency.GlobalMax < 0 {
		return fmt.Errorf("concurrent_streams must be >= 0")
	}
	if cfg.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue.max_size must be > 0")
	}
	if cfg.StreamAnalysis.PipelineMode != PipelineDisabled {
		if _, _, ok := cfg.StreamAnalysis.PipelineMode.Budget(); !ok {
			return fmt.Errorf("unrecognized pipeline_mode %q", cfg.StreamAnalysis.PipelineMode)
		}
	}
	return nil
}

// envPrefix namespaces environment overrides, e.g. STREAMFLOW_LOG_LEVEL.
const envPrefix = "STREAMFLOW_"

func applyEnvOverrides(cfg *AppConfig) {
	if v, ok := lookupEnv("UPSTREAM_BASE_URL"); ok {
		cfg.UpstreamBaseURL = v
	}
	if v, ok := lookupEnv("UPSTREAM_TOKEN"); ok {
		cfg.UpstreamToken = v
	}
	if v, ok := lookupEnv("STATE_PATH"); ok {
		cfg.StatePath = v
	}
	if v, ok := lookupEnv("CHANGELOG_PATH"); ok {
		cfg.ChangelogPath = v
	}
	if v, ok := lookupEnv("CACHE_BACKEND"); ok {
		cfg.CacheBackend = v
	}
	if v, ok := lookupEnv("CACHE_ADDR"); ok {
		cfg.CacheAddr = v
	}
	if v, ok := lookupEnv("LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookupEnv("PIPELINE_MODE"); ok {
		cfg.StreamAnalysis.PipelineMode = PipelineMode(v)
	}
	if v, ok := lookupEnv("CONCURRENT_STREAMS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency.GlobalMax = n
		} else {
			log.WithComponent("config").Warn().Str("value", v).Msg("invalid STREAMFLOW_CONCURRENT_STREAMS, ignoring")
		}
	}
	if v, ok := lookupEnv("GLOBAL_PRIORITY_MODE"); ok {
		cfg.GlobalPriorityMode = v
	}
	if v, ok := lookupEnv("TRACING_ENABLED"); ok {
		cfg.TracingEnabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v, ok := lookupEnv("OTLP_ENDPOINT"); ok {
		cfg.OTLPEndpoint = v
	}
}

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WatchFile starts an fsnotify watch on the loader's source file, reloading
// and swapping the Snapshot on every write event. Call Close to stop.
func (l *Loader) WatchFile() error {
	if l.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return fmt.Errorf("config: watch %s: %w", l.path, err)
	}
	l.watcher = w

	go func() {
		logger := log.WithComponent("config")
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := l.reload(); err != nil {
					logger.Error().Err(err).Msg("config reload failed, keeping previous snapshot")
					continue
				}
				logger.Info().Str("path", l.path).Msg("config reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if any.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}
