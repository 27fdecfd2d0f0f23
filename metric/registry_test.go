package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "test_counter_total",
		Help:      "test counter",
	})
	require.NoError(t, r.RegisterCounter("stream", "test_counter", counter))

	// Duplicate key is rejected
	err := r.RegisterCounter("stream", "test_counter", counter)
	require.Error(t, err)

	assert.True(t, r.Unregister("stream", "test_counter"))
	assert.False(t, r.Unregister("stream", "test_counter"))
}

func TestSameMetricNameDifferentComponents(t *testing.T) {
	r := NewRegistry()

	a := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: "store", Name: "depth", Help: "h"})
	b := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: "gateway", Name: "depth", Help: "h"})

	require.NoError(t, r.RegisterGauge("store", "depth", a))
	require.NoError(t, r.RegisterGauge("gateway", "depth", b))
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "records_total",
		Help:      "records",
	})
	require.NoError(t, r.RegisterCounter("stream", "records", counter))
	counter.Add(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "devicewatch_records_total 3")
}
