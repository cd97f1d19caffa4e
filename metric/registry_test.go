package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/errors"
)

func TestNewMetricsRegistryHasCoreMetrics(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry.CoreMetrics())
	require.NotNil(t, registry.PrometheusRegistry())

	registry.Metrics.PumpTicks.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(registry.Metrics.PumpTicks))
}

func TestRegisterAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_x_flushes_total",
		Help: "test counter",
	})

	require.NoError(t, registry.RegisterCounter("stream_x", "flushes_total", counter))

	// Same key again must be rejected
	err := registry.RegisterCounter("stream_x", "flushes_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, registry.Unregister("stream_x", "flushes_total"))
	assert.False(t, registry.Unregister("stream_x", "flushes_total"))

	// After unregistering, re-registration succeeds
	require.NoError(t, registry.RegisterCounter("stream_x", "flushes_total", counter))
}

func TestRegisterGaugeAndHistogram(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "reader_y_pending", Help: "test"})
	require.NoError(t, registry.RegisterGauge("reader_y", "pending", gauge))

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "reader_y_latency", Help: "test"})
	require.NoError(t, registry.RegisterHistogram("reader_y", "latency", hist))

	gauge.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(gauge))
}
