package probe

import (
	"github.com/sbeimel/streamflow-sub002/internal/model"
)

// resolutionBucket groups a resolution into a coarse class so
// same_resolution priority bonuses can compare streams fairly instead of
// requiring an exact pixel match.
func resolutionBucket(w, h int) int {
	switch {
	case w >= 3840 || h >= 2160:
		return 4 // 4K
	case w >= 1920 || h >= 1080:
		return 3 // 1080p
	case w >= 1280 || h >= 720:
		return 2 // 720p
	case w > 0 && h > 0:
		return 1 // sub-720p
	default:
		return 0 // unknown
	}
}

func resolutionScore(w, h int) float64 {
	return float64(resolutionBucket(w, h)) * 25
}

func fpsScore(fps float64) float64 {
	switch {
	case fps >= 50:
		return 20
	case fps >= 25:
		return 12
	case fps > 0:
		return 5
	default:
		return 0
	}
}

func bitrateScore(kbps *int) float64 {
	if kbps == nil || *kbps <= 0 {
		return 0
	}
	switch {
	case *kbps >= 8000:
		return 20
	case *kbps >= 4000:
		return 14
	case *kbps >= 1500:
		return 8
	default:
		return 3
	}
}

// preferredCodecs ranks video codecs the scorer favors; entries absent
// from this map score the baseline.
var preferredCodecs = map[string]float64{
	"h265": 15,
	"av1":  15,
	"h264": 10,
}

func codecScore(videoCodec string) float64 {
	if s, ok := preferredCodecs[videoCodec]; ok {
		return s
	}
	return 5
}

// PriorityBonus implements spec §4.A's three priority modes. streamBucket is
// the stream's own resolution bucket (no mode reads it); othersShareBucket
// reports whether any other
// stream being scored in the same channel batch falls in the same
// resolution bucket - required for same_resolution mode, which applies the
// bonus only among streams that share a bucket.
func PriorityBonus(mode model.PriorityMode, accountPriority int, streamBucket int, othersShareBucket bool) float64 {
	switch mode {
	case model.PriorityModeDisabled:
		return 0
	case model.PriorityModeSameResolution:
		if !othersShareBucket {
			return 0
		}
		return float64(accountPriority) / 100 * 10
	case model.PriorityModeAllStreams:
		return float64(accountPriority) / 100 * 10
	default:
		return 0
	}
}

// ScoreInput bundles everything Score needs, avoiding a long positional
// parameter list (spec §9: replace variadic/keyword-argument scoring with
// an explicit record).
type ScoreInput struct {
	Stats             model.StreamStats
	AccountPriority   int
	PriorityMode      model.PriorityMode
	OthersShareBucket bool
}

// Score computes a stream's final score per spec §4.A: zero whenever
// status isn't OK, otherwise the sum of resolution/fps/bitrate/codec
// component scores plus the account's priority bonus.
func Score(in ScoreInput) float64 {
	if in.Stats.Status != model.StatusOK {
		return 0
	}
	bucket := resolutionBucket(in.Stats.Resolution.W, in.Stats.Resolution.H)
	base := resolutionScore(in.Stats.Resolution.W, in.Stats.Resolution.H) +
		fpsScore(in.Stats.SourceFPS) +
		bitrateScore(in.Stats.FFmpegOutputBitrate) +
		codecScore(in.Stats.VideoCodec)
	bonus := PriorityBonus(in.PriorityMode, in.AccountPriority, bucket, in.OthersShareBucket)
	return base + bonus
}

// ResolutionBucket exposes the bucketing function for callers (the
// pipeline) that need to determine OthersShareBucket across a batch.
func ResolutionBucket(w, h int) int { return resolutionBucket(w, h) }
