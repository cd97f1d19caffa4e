package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all engine-level metrics (not per-stream)
type Metrics struct {
	// Pump metrics
	PumpTicks    prometheus.Counter
	PumpDuration prometheus.Histogram

	// Scan metrics
	ScansLaunched  *prometheus.CounterVec
	ScansActive    prometheus.Gauge
	ScanDuration   *prometheus.HistogramVec
	RequestsIssued *prometheus.CounterVec

	// Cache metrics
	CachedItems      *prometheus.GaugeVec
	SummaryEvictions prometheus.Counter

	// Instant data metrics
	InstantReads     prometheus.Counter
	InstantCoalesced prometheus.Counter

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PumpTicks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamview",
				Subsystem: "pump",
				Name:      "ticks_total",
				Help:      "Total number of pump ticks executed",
			},
		),

		PumpDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "streamview",
				Subsystem: "pump",
				Name:      "duration_seconds",
				Help:      "Duration of one pump tick (batch + dispatch)",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
		),

		ScansLaunched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamview",
				Subsystem: "scans",
				Name:      "launched_total",
				Help:      "Total number of batched sequential store scans launched",
			},
			[]string{"store"},
		),

		ScansActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "streamview",
				Subsystem: "scans",
				Name:      "active",
				Help:      "Number of store scans currently in flight",
			},
		),

		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "streamview",
				Subsystem: "scans",
				Name:      "duration_seconds",
				Help:      "Duration of batched sequential store scans",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store", "status"},
		),

		RequestsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamview",
				Subsystem: "requests",
				Name:      "issued_total",
				Help:      "Total number of read requests issued after coalescing",
			},
			[]string{"store", "kind"},
		),

		CachedItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamview",
				Subsystem: "cache",
				Name:      "items",
				Help:      "Number of items resident in stream caches",
			},
			[]string{"store", "kind"},
		),

		SummaryEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamview",
				Subsystem: "summary",
				Name:      "evictions_total",
				Help:      "Total number of summary views dropped by the retention policy",
			},
		),

		InstantReads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamview",
				Subsystem: "instant",
				Name:      "reads_total",
				Help:      "Total number of instant cursor reads served",
			},
		),

		InstantCoalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "streamview",
				Subsystem: "instant",
				Name:      "coalesced_total",
				Help:      "Total number of cursor updates collapsed by latest-wins coalescing",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamview",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "class"},
		),
	}
}

// collectors returns every core metric for bulk registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PumpTicks,
		m.PumpDuration,
		m.ScansLaunched,
		m.ScansActive,
		m.ScanDuration,
		m.RequestsIssued,
		m.CachedItems,
		m.SummaryEvictions,
		m.InstantReads,
		m.InstantCoalesced,
		m.ErrorsTotal,
	}
}
