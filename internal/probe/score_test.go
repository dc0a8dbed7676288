package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sbeimel/streamflow-sub002/internal/model"
)

func TestScore_ZeroWhenNotOK(t *testing.T) {
	in := ScoreInput{Stats: model.StreamStats{Status: model.StatusError}}
	assert.Equal(t, float64(0), Score(in))
}

func TestScore_PositiveWhenOK(t *testing.T) {
	in := ScoreInput{
		Stats: model.StreamStats{
			Status:     model.StatusOK,
			Resolution: model.Resolution{W: 1920, H: 1080},
			SourceFPS:  30,
			VideoCodec: "h264",
		},
	}
	assert.Greater(t, Score(in), float64(0))
}

func TestPriorityBonus_Disabled(t *testing.T) {
	assert.Equal(t, float64(0), PriorityBonus(model.PriorityModeDisabled, 100, 3, true))
}

func TestPriorityBonus_SameResolutionOnlyWhenSharingBucket(t *testing.T) {
	assert.Equal(t, float64(0), PriorityBonus(model.PriorityModeSameResolution, 100, 3, false))
	assert.Greater(t, PriorityBonus(model.PriorityModeSameResolution, 100, 3, true), float64(0))
}

func TestPriorityBonus_AllStreamsAppliesRegardless(t *testing.T) {
	assert.Greater(t, PriorityBonus(model.PriorityModeAllStreams, 100, 3, false), float64(0))
}

func TestResolutionBucket_Ordering(t *testing.T) {
	assert.Greater(t, ResolutionBucket(3840, 2160), ResolutionBucket(1920, 1080))
	assert.Greater(t, ResolutionBucket(1920, 1080), ResolutionBucket(1280, 720))
	assert.Equal(t, 0, ResolutionBucket(0, 0))
}
