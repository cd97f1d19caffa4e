package view

import (
	"sync"
	"time"

	"github.com/c360/streamview/types"
)

// Mode identifies how a view selects items from its cache.
type Mode int

const (
	// ModeFixed covers a closed time range.
	ModeFixed Mode = iota
	// ModeTailCount tracks the last N items.
	ModeTailCount
	// ModeTailRange tracks a range computed from the latest item time.
	ModeTailRange
)

// String returns a human-readable representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeFixed:
		return "Fixed"
	case ModeTailCount:
		return "TailCount"
	case ModeTailRange:
		return "TailRange"
	default:
		return "Unknown"
	}
}

// View is an auto-updating, time-ordered window over a TimeCache. A live
// view pins the items its extent spans: they cannot be evicted until the
// view is closed. Observers registered with OnChange fire after every
// batch mutation of the cache.
type View[T any] struct {
	cache *TimeCache[T]
	id    uint64
	mode  Mode

	rng       types.TimeRange
	tailCount uint64
	tailFn    types.TailRangeFunc

	obsMu     sync.Mutex
	obs       map[uint64]func()
	nextObsID uint64
	closed    bool
}

// Fixed returns a view over the closed range rng.
func (c *TimeCache[T]) Fixed(rng types.TimeRange) *View[T] {
	return c.register(&View[T]{mode: ModeFixed, rng: rng})
}

// TailCount returns a view tracking the most recent n items.
func (c *TimeCache[T]) TailCount(n uint64) *View[T] {
	return c.register(&View[T]{mode: ModeTailCount, tailCount: n})
}

// TailRange returns a view whose range is recomputed from the latest item
// time on every read.
func (c *TimeCache[T]) TailRange(fn types.TailRangeFunc) *View[T] {
	return c.register(&View[T]{mode: ModeTailRange, tailFn: fn})
}

func (c *TimeCache[T]) register(v *View[T]) *View[T] {
	v.cache = c
	v.obs = make(map[uint64]func())

	c.mu.Lock()
	c.nextViewID++
	v.id = c.nextViewID
	c.views[v.id] = v
	c.mu.Unlock()
	return v
}

// Mode returns the view's selection mode.
func (v *View[T]) Mode() Mode { return v.mode }

// Items returns a snapshot of the items the view currently covers.
func (v *View[T]) Items() []T {
	c := v.cache
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch v.mode {
	case ModeFixed:
		return c.itemsLocked(v.rng)

	case ModeTailCount:
		n := int(v.tailCount)
		if n > len(c.items) {
			n = len(c.items)
		}
		out := make([]T, n)
		copy(out, c.items[len(c.items)-n:])
		return out

	case ModeTailRange:
		if len(c.items) == 0 {
			return nil
		}
		last := c.keyFn(c.items[len(c.items)-1])
		rng := v.tailFn(last)
		// The tail range is inclusive of the latest item.
		rng.End = rng.End.Add(time.Nanosecond)
		return c.itemsLocked(rng)
	}
	return nil
}

// Extent returns the time range the view currently covers. For tailing
// views the extent moves with the data.
func (v *View[T]) Extent() types.TimeRange {
	c := v.cache
	c.mu.RLock()
	defer c.mu.RUnlock()
	return v.extentLocked(c.items, c.keyFn)
}

// extentLocked computes the covered range. Callers hold the cache lock.
func (v *View[T]) extentLocked(items []T, keyFn func(T) time.Time) types.TimeRange {
	switch v.mode {
	case ModeFixed:
		return v.rng

	case ModeTailCount:
		if len(items) == 0 || v.tailCount == 0 {
			return types.TimeRange{}
		}
		n := int(v.tailCount)
		if n > len(items) {
			n = len(items)
		}
		start := keyFn(items[len(items)-n])
		end := keyFn(items[len(items)-1]).Add(time.Nanosecond)
		return types.NewTimeRange(start, end)

	case ModeTailRange:
		if len(items) == 0 {
			return types.TimeRange{}
		}
		last := keyFn(items[len(items)-1])
		rng := v.tailFn(last)
		rng.End = rng.End.Add(time.Nanosecond)
		return rng
	}
	return types.TimeRange{}
}

// OnChange registers an observer invoked (outside the cache lock) after
// every batch mutation. The returned function cancels the registration.
func (v *View[T]) OnChange(fn func()) func() {
	v.obsMu.Lock()
	defer v.obsMu.Unlock()

	if v.closed {
		return func() {}
	}
	v.nextObsID++
	id := v.nextObsID
	v.obs[id] = fn

	return func() {
		v.obsMu.Lock()
		delete(v.obs, id)
		v.obsMu.Unlock()
	}
}

// observers snapshots the registered observer functions.
func (v *View[T]) observers() []func() {
	v.obsMu.Lock()
	defer v.obsMu.Unlock()
	out := make([]func(), 0, len(v.obs))
	for _, fn := range v.obs {
		out = append(out, fn)
	}
	return out
}

// Close unregisters the view, releasing its pin on the spanned items.
// Closing twice is a no-op.
func (v *View[T]) Close() {
	c := v.cache
	c.mu.Lock()
	delete(c.views, v.id)
	c.mu.Unlock()

	v.obsMu.Lock()
	v.closed = true
	v.obs = map[uint64]func(){}
	v.obsMu.Unlock()
}
