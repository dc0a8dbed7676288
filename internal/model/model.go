// Package model holds the typed records shared across the scheduler core.
//
// JSON is the wire/persistence format, not the in-memory one: every type
// here is a concrete Go struct, and (de)serialization only happens at the
// upstream-HTTP and durable-storage boundaries (internal/upstream,
// internal/store).
package model

import (
	"strconv"
	"time"
)

// StreamStatus is the verdict of a single probe.
type StreamStatus string

const (
	StatusOK      StreamStatus = "OK"
	StatusTimeout StreamStatus = "Timeout"
	StatusError   StreamStatus = "Error"
	StatusDead    StreamStatus = "Dead"
)

// Resolution is a parsed "WxH" probe result.
type Resolution struct {
	W int
	H int
}

// String renders the resolution back into "WxH" form, "0x0" when empty.
func (r Resolution) String() string {
	return formatResolution(r.W, r.H)
}

// StreamStats is the JSON-serialisable result of one probe.
//
// Callers index into every field without an existence check (spec B1): a
// StreamStats returned from ProbeExecutor.Probe is always fully populated,
// even on Timeout/Error, with Bitrate nil signaling "not measurable".
type StreamStats struct {
	Resolution          Resolution   `json:"resolution"`
	SourceFPS           float64      `json:"source_fps"`
	VideoCodec          string       `json:"video_codec"`
	AudioCodec          string       `json:"audio_codec"`
	FFmpegOutputBitrate *int         `json:"ffmpeg_output_bitrate"`
	Status              StreamStatus `json:"status"`
	ProbedAt            time.Time    `json:"probed_at"`
}

// Channel is owned by the upstream orchestrator; the core mutates only
// EnabledPerProfile (via PATCH) and the channel's stream association/order.
type Channel struct {
	ID                int          `json:"id"`
	Name              string       `json:"name"`
	GroupID           *int         `json:"group_id,omitempty"`
	EnabledPerProfile map[int]bool `json:"enabled_per_profile,omitempty"`
	StreamIDs         []int        `json:"streams,omitempty"`
}

// Stream is owned by the upstream orchestrator; the core PATCHes
// StreamStats and channel-stream association order.
type Stream struct {
	ID           int          `json:"id"`
	URL          string       `json:"url"`
	Name         string       `json:"name"`
	M3UAccountID *int         `json:"m3u_account_id,omitempty"`
	StreamStats  *StreamStats `json:"stream_stats,omitempty"`
}

// PriorityMode controls how an M3U account's priority bonus is applied
// during scoring. The zero value is intentionally not a valid mode: callers
// must resolve "" through EffectivePriorityMode, never assume it means
// disabled (spec §4.A, B4 — "never silently disabled").
type PriorityMode string

const (
	PriorityModeDisabled       PriorityMode = "disabled"
	PriorityModeSameResolution PriorityMode = "same_resolution"
	PriorityModeAllStreams     PriorityMode = "all_streams"
)

// EffectivePriorityMode resolves an account's configured mode against the
// global default, per spec 4.A: "An account with no explicit priority_mode
// inherits the global default."
func EffectivePriorityMode(accountMode, globalDefault PriorityMode) PriorityMode {
	if accountMode == "" {
		return globalDefault
	}
	return accountMode
}

// M3UAccount is owned by the upstream orchestrator.
type M3UAccount struct {
	ID                   int          `json:"id"`
	Name                 string       `json:"name"`
	MaxConcurrentStreams int          `json:"max_concurrent_streams"` // 0 = unlimited
	Priority             int          `json:"priority"`               // 0-100
	PriorityMode         PriorityMode `json:"priority_mode,omitempty"`
	URLRewritePattern    string       `json:"url_rewrite_pattern,omitempty"`
	URLRewriteReplace    string       `json:"url_rewrite_replace,omitempty"`
}

// ChannelProfile is an upstream grouping of channels that can be
// individually enabled/disabled (spec §3, Profile in GLOSSARY).
type ChannelProfile struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// CheckingMode is the tri-state "enabled/disabled/inherit" setting recovered
// from original_source/backend/channel_settings_manager.py: a channel
// setting overrides its group's, a missing channel setting inherits the
// group, and missing both defaults to enabled.
type CheckingMode string

const (
	CheckingModeInherit  CheckingMode = ""
	CheckingModeEnabled  CheckingMode = "enabled"
	CheckingModeDisabled CheckingMode = "disabled"
)

// EffectiveCheckingMode implements spec §4.G's eligibility rule.
func EffectiveCheckingMode(channelMode, groupMode CheckingMode) CheckingMode {
	if channelMode != CheckingModeInherit {
		return channelMode
	}
	if groupMode != CheckingModeInherit {
		return groupMode
	}
	return CheckingModeEnabled
}

// ChannelGroup carries the group-level checking mode a channel inherits.
type ChannelGroup struct {
	ID           int          `json:"id"`
	Name         string       `json:"name"`
	CheckingMode CheckingMode `json:"checking_mode,omitempty"`
}

// ChannelSettings is the per-channel override of checking mode.
type ChannelSettings struct {
	ChannelID    int          `json:"channel_id"`
	CheckingMode CheckingMode `json:"checking_mode,omitempty"`
}

// ProxyChannelStatus is one entry of GET /proxy/ts/status.
type ProxyChannelStatus struct {
	ChannelID     int    `json:"channel_id"`
	State         string `json:"state"`
	StreamID      int    `json:"stream_id"`
	M3UProfileID  int    `json:"m3u_profile_id"`
	ClientCount   int    `json:"client_count"`
}

// ProxyStatus is the decoded GET /proxy/ts/status response, keyed by
// channel_id (items lacking channel_id are skipped per spec §6).
type ProxyStatus struct {
	Channels map[int]ProxyChannelStatus
	Count    int
}

func formatResolution(w, h int) string {
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}
