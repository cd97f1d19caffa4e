package pool

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/streamview/metric"
)

// poolMetrics holds Prometheus metrics for pool operations.
type poolMetrics struct {
	acquires prometheus.Counter
	releases prometheus.Counter
}

// newPoolMetrics creates and registers pool metrics with the provided registry.
func newPoolMetrics(registry *metric.MetricsRegistry, prefix string) (*poolMetrics, error) {
	m := &poolMetrics{
		acquires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "streamview",
			Subsystem:   "pool",
			Name:        "acquires_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of pool acquires",
		}),
		releases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "streamview",
			Subsystem:   "pool",
			Name:        "releases_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of last-reference releases back to the pool",
		}),
	}

	if err := registry.RegisterCounter(prefix, "pool_acquires_total", m.acquires); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "pool_releases_total", m.releases); err != nil {
		registry.Unregister(prefix, "pool_acquires_total")
		return nil, err
	}

	return m, nil
}

func (m *poolMetrics) recordAcquire() { m.acquires.Inc() }
func (m *poolMetrics) recordRelease() { m.releases.Inc() }
