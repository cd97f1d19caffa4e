package pool

import (
	"github.com/c360/streamview/metric"
)

// Option configures pool behavior using the functional options pattern.
type Option[T any] func(*poolOptions[T])

// poolOptions holds internal configuration for pool instances.
// Stats are ALWAYS collected; metrics are optional via WithMetrics().
type poolOptions[T any] struct {
	resetFn func(T)
	finalFn func(T)

	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
}

// WithReset sets a hook run on a value before it re-enters the free list.
func WithReset[T any](reset func(T)) Option[T] {
	return func(opts *poolOptions[T]) {
		opts.resetFn = reset
	}
}

// WithFinalizer sets a hook run on a value when the pool discards it
// (on Close, or on release after Close).
func WithFinalizer[T any](finalize func(T)) Option[T] {
	return func(opts *poolOptions[T]) {
		opts.finalFn = finalize
	}
}

// WithMetrics enables Prometheus metrics export for pool statistics.
// If registry is nil or prefix is empty, this option is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *poolOptions[T]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// applyOptions applies functional options to create final pool configuration.
func applyOptions[T any](options ...Option[T]) *poolOptions[T] {
	opts := &poolOptions[T]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
