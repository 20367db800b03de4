package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaugesFollowCounters(t *testing.T) {
	m := New()
	m.Ticks.Add(41)
	m.DispatchSent.Add(3)
	m.Stage.Store(2)
	m.ObserveTick(12 * time.Millisecond)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		metric := mf.GetMetric()[0]
		if g := metric.GetGauge(); g != nil {
			values[mf.GetName()] = g.GetValue()
		}
		if h := metric.GetHistogram(); h != nil {
			values[mf.GetName()] = float64(h.GetSampleCount())
		}
	}

	assert.Equal(t, 41.0, values["relay_ticks_total"])
	assert.Equal(t, 3.0, values["relay_dispatch_sent_total"])
	assert.Equal(t, 2.0, values["relay_stage"])
	assert.Equal(t, 12.0, values["relay_tick_latency_ms"])
	assert.Equal(t, 1.0, values["relay_tick_duration_seconds"])
}

func TestSnapshot(t *testing.T) {
	m := New()
	m.FramesFailed.Add(1)
	m.AnnouncementsDropped.Add(2)

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.FramesFailed)
	assert.Equal(t, uint64(2), snap.AnnouncementsDropped)
	assert.Zero(t, snap.Ticks)
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.DispatchErrors.Add(5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relay_dispatch_errors_total 5")
	assert.Contains(t, string(body), "relay_presenter_dropped_total 0")
}
