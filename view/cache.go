// Package view provides the time-ordered observable cache underlying every
// stream and summary view in the engine, plus the three view modes served
// over it: Fixed (closed range), TailCount (last N items), and TailRange
// (range computed from the latest time).
//
// A TimeCache keeps its items strictly ordered by key time with
// last-writer-wins deduplication on key collision. Batch mutations are
// atomic with respect to observers: a view sees all of a dispatched batch
// or none of it. Live views pin the items their extent spans; RemoveRange
// never evicts pinned items.
package view

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/streamview/types"
)

// EvictFunc is called once per value removed from the cache, outside the
// cache lock. It is the release hook for pool-backed payloads.
type EvictFunc[T any] func(item T)

// TimeCache is a thread-safe, time-ordered, dedup-by-key item cache.
type TimeCache[T any] struct {
	mu      sync.RWMutex
	items   []T
	keyFn   func(T) time.Time
	evictFn EvictFunc[T]

	views      map[uint64]*View[T]
	nextViewID uint64
}

// NewTimeCache creates a cache whose ordering key is extracted by keyFn.
// evict may be nil for payload types without releasable resources.
func NewTimeCache[T any](keyFn func(T) time.Time, evict EvictFunc[T]) *TimeCache[T] {
	return &TimeCache[T]{
		keyFn:   keyFn,
		evictFn: evict,
		views:   make(map[uint64]*View[T]),
	}
}

// Len returns the number of cached items.
func (c *TimeCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// searchIndex returns the insertion index for key t: the first position
// whose key is >= t. Callers hold the lock.
func (c *TimeCache[T]) searchIndex(t time.Time) int {
	return sort.Search(len(c.items), func(i int) bool {
		return !c.keyFn(c.items[i]).Before(t)
	})
}

// UpdateOrAdd inserts item in key order. An existing item with the same
// key is replaced (last writer wins) and the replaced value is evicted.
func (c *TimeCache[T]) UpdateOrAdd(item T) {
	key := c.keyFn(item)

	c.mu.Lock()
	var evicted T
	var hasEvicted bool

	i := c.searchIndex(key)
	if i < len(c.items) && c.keyFn(c.items[i]).Equal(key) {
		evicted, hasEvicted = c.items[i], true
		c.items[i] = item
	} else {
		c.items = append(c.items, item)
		copy(c.items[i+1:], c.items[i:])
		c.items[i] = item
	}
	observers := c.viewObserversLocked()
	c.mu.Unlock()

	if hasEvicted && c.evictFn != nil {
		c.evictFn(evicted)
	}
	notifyAll(observers)
}

// AddRange inserts a batch of items in one critical section. Observers are
// notified once, after the whole batch is resident: a view never sees a
// partial batch.
func (c *TimeCache[T]) AddRange(batch []T) {
	if len(batch) == 0 {
		return
	}

	var evicted []T

	c.mu.Lock()
	for _, item := range batch {
		key := c.keyFn(item)
		i := c.searchIndex(key)
		if i < len(c.items) && c.keyFn(c.items[i]).Equal(key) {
			evicted = append(evicted, c.items[i])
			c.items[i] = item
			continue
		}
		var zero T
		c.items = append(c.items, zero)
		copy(c.items[i+1:], c.items[i:])
		c.items[i] = item
	}
	observers := c.viewObserversLocked()
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, item := range evicted {
			c.evictFn(item)
		}
	}
	notifyAll(observers)
}

// RemoveRange evicts the items within rng that no live view extent pins.
// Returns the number of items removed.
func (c *TimeCache[T]) RemoveRange(rng types.TimeRange) int {
	if !rng.IsValid() {
		return 0
	}

	var evicted []T

	c.mu.Lock()
	pins := make([]types.TimeRange, 0, len(c.views))
	for _, v := range c.views {
		pins = append(pins, v.extentLocked(c.items, c.keyFn))
	}

	kept := c.items[:0]
	for _, item := range c.items {
		key := c.keyFn(item)
		if rng.Contains(key) && !containsAny(pins, key) {
			evicted = append(evicted, item)
			continue
		}
		kept = append(kept, item)
	}
	// Zero the tail so evicted values do not linger in the backing array.
	for i := len(kept); i < len(c.items); i++ {
		var zero T
		c.items[i] = zero
	}
	c.items = kept
	observers := c.viewObserversLocked()
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, item := range evicted {
			c.evictFn(item)
		}
	}
	if len(evicted) > 0 {
		notifyAll(observers)
	}
	return len(evicted)
}

// Clear evicts every item regardless of pins. Used on disposal, after
// views have been canceled.
func (c *TimeCache[T]) Clear() {
	c.mu.Lock()
	evicted := c.items
	c.items = nil
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, item := range evicted {
			c.evictFn(item)
		}
	}
}

// Items returns a snapshot of the items within rng.
func (c *TimeCache[T]) Items(rng types.TimeRange) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.itemsLocked(rng)
}

func (c *TimeCache[T]) itemsLocked(rng types.TimeRange) []T {
	if !rng.IsValid() {
		return nil
	}
	lo := c.searchIndex(rng.Start)
	hi := c.searchIndex(rng.End)
	out := make([]T, hi-lo)
	copy(out, c.items[lo:hi])
	return out
}

// All returns a snapshot of every cached item.
func (c *TimeCache[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// LastTime returns the key of the most recent item.
func (c *TimeCache[T]) LastTime() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.items) == 0 {
		return time.Time{}, false
	}
	return c.keyFn(c.items[len(c.items)-1]), true
}

// Extents returns the current extent of every live view. The stream
// reader's coalescer treats these as already-covered ranges.
func (c *TimeCache[T]) Extents() []types.TimeRange {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]types.TimeRange, 0, len(c.views))
	for _, v := range c.views {
		if ext := v.extentLocked(c.items, c.keyFn); ext.IsValid() {
			out = append(out, ext)
		}
	}
	return out
}

// viewObserversLocked snapshots every observer of every live view so they
// can be invoked outside the lock.
func (c *TimeCache[T]) viewObserversLocked() []func() {
	var out []func()
	for _, v := range c.views {
		out = append(out, v.observers()...)
	}
	return out
}

func notifyAll(observers []func()) {
	for _, fn := range observers {
		fn()
	}
}

func containsAny(ranges []types.TimeRange, t time.Time) bool {
	for _, r := range ranges {
		if r.Contains(t) {
			return true
		}
	}
	return false
}
