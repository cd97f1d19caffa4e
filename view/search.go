package view

import (
	"time"
)

// SearchMode selects the fallback when no item matches a query exactly.
type SearchMode int

const (
	// Exact returns only an exact containment/key match.
	Exact SearchMode = iota
	// Previous falls back to the item preceding the query time.
	Previous
	// Next falls back to the item following the query time.
	Next
)

// Find returns the item whose key equals t, or per mode the neighboring
// item. The boolean reports whether an item was found.
func (c *TimeCache[T]) Find(t time.Time, mode SearchMode) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero T
	i := c.searchIndex(t)

	if i < len(c.items) && c.keyFn(c.items[i]).Equal(t) {
		return c.items[i], true
	}

	switch mode {
	case Previous:
		if i > 0 {
			return c.items[i-1], true
		}
	case Next:
		if i < len(c.items) {
			return c.items[i], true
		}
	}
	return zero, false
}

// Nearest returns the item closest to t whose key lies within the
// symmetric epsilon window [t-epsilon, t+epsilon].
func (c *TimeCache[T]) Nearest(t time.Time, epsilon time.Duration) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero T
	if len(c.items) == 0 {
		return zero, false
	}

	i := c.searchIndex(t)

	best := -1
	var bestDist time.Duration
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(c.items) {
			continue
		}
		d := t.Sub(c.keyFn(c.items[j]))
		if d < 0 {
			d = -d
		}
		if d <= epsilon && (best < 0 || d < bestDist) {
			best, bestDist = j, d
		}
	}
	if best < 0 {
		return zero, false
	}
	return c.items[best], true
}
