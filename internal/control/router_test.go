package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrigger struct {
	checked    []int
	rejectNext bool
	checkedAll int
	status     Status
}

func (f *fakeTrigger) CheckSingleChannel(channelID int) bool {
	if f.rejectNext {
		return false
	}
	f.checked = append(f.checked, channelID)
	return true
}

func (f *fakeTrigger) CheckAllChannels(ctx context.Context) { f.checkedAll++ }
func (f *fakeTrigger) GetStatus() Status                     { return f.status }

func TestHealthz_ReturnsOK(t *testing.T) {
	r := NewRouter(&fakeTrigger{}, Config{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckSingleChannel_AcceptsValidID(t *testing.T) {
	trig := &fakeTrigger{}
	r := NewRouter(trig, Config{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/42/check", nil)

	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int{42}, trig.checked)
}

func TestCheckSingleChannel_RejectsInvalidID(t *testing.T) {
	r := NewRouter(&fakeTrigger{}, Config{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/not-a-number/check", nil)

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckSingleChannel_ConflictWhenRejected(t *testing.T) {
	trig := &fakeTrigger{rejectNext: true}
	r := NewRouter(trig, Config{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/channels/1/check", nil)

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStatus_ReturnsTriggerSnapshot(t *testing.T) {
	trig := &fakeTrigger{status: Status{Queued: 3, StreamCheckingMode: true}}
	r := NewRouter(trig, Config{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"queued":3`)
}

func TestMetrics_IsExposed(t *testing.T) {
	r := NewRouter(&fakeTrigger{}, Config{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
