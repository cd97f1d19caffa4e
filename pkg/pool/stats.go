package pool

import (
	"sync/atomic"
	"time"
)

// Statistics tracks pool behavior.
type Statistics struct {
	acquired  int64
	released  int64
	allocated int64
	recycled  int64

	startTime time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Acquired records a handle leaving the pool.
func (s *Statistics) Acquired() { atomic.AddInt64(&s.acquired, 1) }

// Released records a value returning to the pool.
func (s *Statistics) Released() { atomic.AddInt64(&s.released, 1) }

// Allocated records a fresh allocation (free list was empty).
func (s *Statistics) Allocated() { atomic.AddInt64(&s.allocated, 1) }

// Recycled records a free-list reuse.
func (s *Statistics) Recycled() { atomic.AddInt64(&s.recycled, 1) }

// AcquiredCount returns the total number of acquires.
func (s *Statistics) AcquiredCount() int64 { return atomic.LoadInt64(&s.acquired) }

// ReleasedCount returns the total number of last-reference releases.
func (s *Statistics) ReleasedCount() int64 { return atomic.LoadInt64(&s.released) }

// AllocatedCount returns the total number of fresh allocations.
func (s *Statistics) AllocatedCount() int64 { return atomic.LoadInt64(&s.allocated) }

// RecycledCount returns the total number of free-list reuses.
func (s *Statistics) RecycledCount() int64 { return atomic.LoadInt64(&s.recycled) }

// Outstanding returns handles acquired but not yet fully released.
func (s *Statistics) Outstanding() int64 {
	return s.AcquiredCount() - s.ReleasedCount()
}

// Uptime returns how long the pool has existed.
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.startTime)
}
