package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, counter.Write(m))
	return m.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, gauge.Write(m))
	return m.GetGauge().GetValue()
}

func TestIncGlobalSweep_IncrementsCounter(t *testing.T) {
	before := getCounterValue(t, globalSweepsTotal)
	IncGlobalSweep()
	after := getCounterValue(t, globalSweepsTotal)
	require.Equal(t, before+1, after)
}

func TestSetGlobalActionInProgress_TogglesGauge(t *testing.T) {
	SetGlobalActionInProgress(true)
	require.Equal(t, float64(1), getGaugeValue(t, globalActionInProgress))

	SetGlobalActionInProgress(false)
	require.Equal(t, float64(0), getGaugeValue(t, globalActionInProgress))
}

func TestSetQueueDepth_RecordsPerSet(t *testing.T) {
	SetQueueDepth("queued", 7)
	require.Equal(t, float64(7), getGaugeValue(t, queueDepth.WithLabelValues("queued")))
}
