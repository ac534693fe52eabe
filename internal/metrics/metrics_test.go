package metrics_test

import (
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-intercom-relay/internal/metrics"
)

func TestCounters(t *testing.T) {
	m := metrics.New()

	m.Inc(metrics.EventDeviceConnected)
	m.Inc(metrics.EventDeviceConnected)
	m.Add(metrics.EventFramesForwarded, 5)

	assert.Equal(t, uint64(2), m.Get(metrics.EventDeviceConnected))
	assert.Equal(t, uint64(5), m.Get(metrics.EventFramesForwarded))

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap[metrics.EventDeviceConnected])

	// Snapshot is a copy, not a view.
	m.Inc(metrics.EventDeviceConnected)
	assert.Equal(t, uint64(2), snap[metrics.EventDeviceConnected])
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *metrics.Metrics
	m.Inc("anything")
	m.Add("anything", 3)
	assert.Nil(t, m.Snapshot())
	assert.Zero(t, m.Get("anything"))
}

func TestConcurrentInc(t *testing.T) {
	m := metrics.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Inc(metrics.EventFramesForwarded)
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(50), m.Get(metrics.EventFramesForwarded))
}

func TestPrometheusHandler(t *testing.T) {
	m := metrics.New()
	m.Inc(metrics.EventUserConnected)
	m.Add(metrics.EventFramesForwarded, 3)

	rec := httptest.NewRecorder()
	metrics.PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "# TYPE intercom_relay_events_total counter")
	assert.Contains(t, body, `intercom_relay_events_total{event="user_connected"} 1`)
	assert.Contains(t, body, `intercom_relay_events_total{event="frames_forwarded"} 3`)
}
