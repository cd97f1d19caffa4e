package stream

import (
	"log/slog"
	"time"
)

// DefaultEpsilon is the cursor window used when a target registers
// without one.
const DefaultEpsilon = 500 * time.Millisecond

// Option configures a Reader using the functional options pattern.
type Option[T any] func(*readerOptions[T])

type readerOptions[T any] struct {
	release        func(T)
	clone          func(T) (T, error)
	log            *slog.Logger
	defaultEpsilon time.Duration
	indexPadding   float64
}

// WithRelease sets the hook releasing one payload reference. Required for
// pool-backed payload types; every message evicted from the cache, dropped
// from the buffer on close, or locally released after an instant push goes
// through it exactly once.
func WithRelease[T any](release func(T)) Option[T] {
	return func(opts *readerOptions[T]) {
		opts.release = release
	}
}

// WithClone sets the hook cloning a payload for hand-off to an instant
// target. For pool-backed types this acquires a new reference; the target
// owns the clone.
func WithClone[T any](clone func(T) (T, error)) Option[T] {
	return func(opts *readerOptions[T]) {
		opts.clone = clone
	}
}

// WithLogger sets the reader's logger.
func WithLogger[T any](log *slog.Logger) Option[T] {
	return func(opts *readerOptions[T]) {
		if log != nil {
			opts.log = log
		}
	}
}

// WithDefaultEpsilon sets the cursor window used by targets that register
// without their own.
func WithDefaultEpsilon[T any](epsilon time.Duration) Option[T] {
	return func(opts *readerOptions[T]) {
		if epsilon > 0 {
			opts.defaultEpsilon = epsilon
		}
	}
}

// WithIndexPadding sets the factor of the viewport width added to each
// side of the instant index window. Zero keeps the default of one full
// viewport width per side.
func WithIndexPadding[T any](factor float64) Option[T] {
	return func(opts *readerOptions[T]) {
		if factor > 0 {
			opts.indexPadding = factor
		}
	}
}

func applyOptions[T any](options ...Option[T]) *readerOptions[T] {
	opts := &readerOptions[T]{
		log:            slog.Default(),
		defaultEpsilon: DefaultEpsilon,
		indexPadding:   1.0,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
