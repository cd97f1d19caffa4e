// Package pool provides a generic, thread-safe pool of allocation-heavy
// values (image frames, sample buffers) with reference-counted shared
// handles. Statistics are always collected for observability; Prometheus
// metrics are optional via functional options.
//
// Values leave the pool wrapped in a *Shared handle. Every hand-off of a
// handle to a new owner pairs an AddRef with exactly one Release by that
// owner; when the count reaches zero the value is reset and returned to
// the free list. Releasing a dead handle or AddRef after the count hit
// zero returns a classified error instead of corrupting the free list.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/c360/streamview/errors"
)

// Pool is a generic pool of reusable values of type T.
type Pool[T any] struct {
	mu     sync.Mutex
	free   []T
	closed bool

	newFn   func() T
	resetFn func(T)
	finalFn func(T)

	stats   *Statistics // ALWAYS initialized
	metrics *poolMetrics
}

// New creates a pool. newFn is required and allocates a fresh value when
// the free list is empty. Reset/finalizer hooks and metrics are supplied
// via options.
func New[T any](newFn func() T, options ...Option[T]) (*Pool[T], error) {
	if newFn == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "pool", "New", "newFn is required")
	}

	opts := applyOptions(options...)

	var metrics *poolMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newPoolMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "pool", "New", "metrics registration")
		}
	}

	return &Pool[T]{
		newFn:   newFn,
		resetFn: opts.resetFn,
		finalFn: opts.finalFn,
		stats:   NewStatistics(),
		metrics: metrics,
	}, nil
}

// Acquire returns a shared handle over a pooled value with a reference
// count of one.
func (p *Pool[T]) Acquire() (*Shared[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrPoolClosed, "pool", "Acquire", "acquire after close")
	}

	var value T
	if n := len(p.free); n > 0 {
		value = p.free[n-1]
		var zero T
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		p.stats.Recycled()
	} else {
		value = p.newFn()
		p.stats.Allocated()
	}
	p.mu.Unlock()

	p.stats.Acquired()
	if p.metrics != nil {
		p.metrics.recordAcquire()
	}

	h := &Shared[T]{pool: p, value: value}
	h.refs.Store(1)
	return h, nil
}

// recycle returns a value whose last reference was released.
func (p *Pool[T]) recycle(value T) {
	if p.resetFn != nil {
		p.resetFn(value)
	}

	p.mu.Lock()
	closed := p.closed
	if !closed {
		p.free = append(p.free, value)
	}
	p.mu.Unlock()

	if closed && p.finalFn != nil {
		p.finalFn(value)
	}

	p.stats.Released()
	if p.metrics != nil {
		p.metrics.recordRelease()
	}
}

// Size returns the current free-list length.
func (p *Pool[T]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() *Statistics {
	return p.stats
}

// Close finalizes every free value and rejects further acquires.
// Outstanding handles remain valid; their values are finalized on release.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	free := p.free
	p.free = nil
	p.mu.Unlock()

	if p.finalFn != nil {
		for _, value := range free {
			p.finalFn(value)
		}
	}
	return nil
}

// Shared is a reference-counted handle over one pooled value.
type Shared[T any] struct {
	pool  *Pool[T]
	value T
	refs  atomic.Int32
}

// Value returns the underlying value. The handle must be live.
func (s *Shared[T]) Value() T {
	return s.value
}

// AddRef grants co-ownership to an additional holder. It fails once the
// count has reached zero: a recycled value must never be resurrected.
func (s *Shared[T]) AddRef() error {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return errors.WrapInvalid(errors.ErrBufferReleased, "pool", "AddRef", "handle already released")
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops one reference; the last release recycles the value.
// Releasing more times than acquired returns an error.
func (s *Shared[T]) Release() error {
	n := s.refs.Add(-1)
	switch {
	case n > 0:
		return nil
	case n == 0:
		s.pool.recycle(s.value)
		return nil
	default:
		// Undo the underflow so repeated misuse stays detectable.
		s.refs.Add(1)
		return errors.WrapInvalid(errors.ErrBufferReleased, "pool", "Release", "double release")
	}
}

// Refs returns the current reference count. Intended for tests and
// leak-check instrumentation.
func (s *Shared[T]) Refs() int {
	return int(s.refs.Load())
}
