package summarize

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/c360/streamview/coalesce"
	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/types"
	"github.com/c360/streamview/view"
)

// DefaultCacheCapacity bounds the number of resident buckets per summary
// when no explicit capacity is configured.
const DefaultCacheCapacity = 16384

// fullRange spans every representable bucket key. Used by the purge pass
// to sweep the whole cache in one RemoveRange call.
var fullRange = types.TimeRange{
	Start: time.Unix(0, 0).UTC(),
	End:   time.Unix(0, math.MaxInt64).UTC(),
}

// Summary is the bucket cache for one (stream, summarizer, interval)
// combination. Computed buckets arrive through InsertPending, which
// merges boundary buckets of adjacent pending ranges, and become visible
// to views only on DispatchData. Retention is capacity-bounded: the purge
// pass drops internally pinned ranges oldest-first while never evicting
// buckets a live caller view still spans.
type Summary[T any] struct {
	interval   time.Duration
	summarizer Summarizer[T]
	capacity   int
	log        *slog.Logger

	// evictHook, when set, observes the number of pinned ranges dropped
	// by each purge pass.
	evictHook func(ranges int)

	cache *view.TimeCache[IntervalData[T]]

	mu      sync.Mutex
	pending []pendingRange[T]
	pins    []*view.View[IntervalData[T]]
}

// pendingRange is one contiguous run of computed buckets awaiting
// dispatch, sorted by bucket key with distinct keys.
type pendingRange[T any] struct {
	buckets []IntervalData[T]
}

func (p pendingRange[T]) firstKey(interval time.Duration) time.Time {
	return BucketStart(p.buckets[0].OriginatingTime, interval)
}

func (p pendingRange[T]) lastKey(interval time.Duration) time.Time {
	return BucketStart(p.buckets[len(p.buckets)-1].OriginatingTime, interval)
}

// span returns the half-open range the run's buckets cover, aligned to
// bucket boundaries.
func (p pendingRange[T]) span(interval time.Duration) types.TimeRange {
	return types.NewTimeRange(p.firstKey(interval), p.lastKey(interval).Add(interval))
}

// NewSummary creates an empty summary cache. interval and summarizer are
// required; capacity <= 0 selects DefaultCacheCapacity.
func NewSummary[T any](interval time.Duration, summarizer Summarizer[T], capacity int, log *slog.Logger) (*Summary[T], error) {
	if interval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Summary", "NewSummary", "interval must be positive")
	}
	if summarizer == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Summary", "NewSummary", "summarizer required")
	}
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Summary[T]{
		interval:   interval,
		summarizer: summarizer,
		capacity:   capacity,
		log:        log.With("interval", interval, "summarizer", summarizer.Name()),
	}
	s.cache = view.NewTimeCache(
		func(d IntervalData[T]) time.Time { return BucketStart(d.OriginatingTime, interval) },
		nil,
	)
	return s, nil
}

// Interval returns the bucket granularity.
func (s *Summary[T]) Interval() time.Duration { return s.interval }

// Len returns the number of resident buckets.
func (s *Summary[T]) Len() int { return s.cache.Len() }

// align widens rng's start down to the bucket boundary so a bucket
// overlapping the start of the request is not missed by key lookups.
func (s *Summary[T]) align(rng types.TimeRange) types.TimeRange {
	return types.NewTimeRange(BucketStart(rng.Start, s.interval), rng.End)
}

// View returns a fixed caller view over the buckets covering rng. Live
// views pin their buckets against purging.
func (s *Summary[T]) View(rng types.TimeRange) *view.View[IntervalData[T]] {
	return s.cache.Fixed(s.align(rng))
}

// TailCountView returns a view tracking the most recent n buckets.
func (s *Summary[T]) TailCountView(n uint64) *view.View[IntervalData[T]] {
	return s.cache.TailCount(n)
}

// TailRangeView returns a view whose range follows the latest bucket.
func (s *Summary[T]) TailRangeView(fn types.TailRangeFunc) *view.View[IntervalData[T]] {
	return s.cache.TailRange(fn)
}

// MissingRanges returns the sub-ranges of rng not covered by any live
// summary view extent. Callers request raw data and summarization for
// exactly these gaps, so overlapping summary reads never recompute
// shared buckets.
func (s *Summary[T]) MissingRanges(rng types.TimeRange) []types.TimeRange {
	gaps := coalesce.Compute(s.align(rng), nil, s.cache.Extents(), false)
	out := make([]types.TimeRange, 0, len(gaps))
	for _, g := range gaps {
		out = append(out, g.Range)
	}
	return out
}

// InsertPending adds a run of freshly computed buckets to the pending
// set. When the run's boundary bucket shares a key with the boundary
// bucket of an adjacent pending run, the two partial buckets are merged
// through the summarizer's Combine and the runs splice into one. The
// pending set stays sorted by first bucket key with no key shared
// between runs.
func (s *Summary[T]) InsertPending(buckets []IntervalData[T]) error {
	if len(buckets) == 0 {
		return nil
	}
	for i := 1; i < len(buckets); i++ {
		prev := BucketStart(buckets[i-1].OriginatingTime, s.interval)
		cur := BucketStart(buckets[i].OriginatingTime, s.interval)
		if !prev.Before(cur) {
			return errors.WrapInvalid(errors.ErrInvalidRange, "Summary", "InsertPending", "buckets must be sorted with distinct keys")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := append([]pendingRange[T]{}, s.pending...)
	merged := pendingRange[T]{buckets: buckets}
	first := merged.firstKey(s.interval)
	last := merged.lastKey(s.interval)

	// Absorb a pending run ending on our first bucket.
	for i, p := range s.pending {
		if p.lastKey(s.interval).Equal(first) {
			head := p.buckets[:len(p.buckets)-1]
			boundary := s.summarizer.Combine(p.buckets[len(p.buckets)-1], merged.buckets[0])
			merged.buckets = append(append(append([]IntervalData[T]{}, head...), boundary), merged.buckets[1:]...)
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	// Absorb a pending run starting on our last bucket.
	for i, p := range s.pending {
		if p.firstKey(s.interval).Equal(last) {
			boundary := s.summarizer.Combine(merged.buckets[len(merged.buckets)-1], p.buckets[0])
			spliced := append([]IntervalData[T]{}, merged.buckets[:len(merged.buckets)-1]...)
			merged.buckets = append(append(spliced, boundary), p.buckets[1:]...)
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}

	at := sort.Search(len(s.pending), func(i int) bool {
		return !s.pending[i].firstKey(s.interval).Before(merged.firstKey(s.interval))
	})
	s.pending = append(s.pending, pendingRange[T]{})
	copy(s.pending[at+1:], s.pending[at:])
	s.pending[at] = merged

	if err := s.checkPendingLocked(); err != nil {
		s.pending = snapshot
		return err
	}
	return nil
}

// checkPendingLocked verifies the pending runs are sorted and disjoint
// by bucket key. A violation means overlapping (not merely adjacent)
// runs were inserted, which the gap computation should have prevented.
func (s *Summary[T]) checkPendingLocked() error {
	for i := 1; i < len(s.pending); i++ {
		if !s.pending[i-1].lastKey(s.interval).Before(s.pending[i].firstKey(s.interval)) {
			return errors.WrapInvalid(errors.ErrInvalidRange, "Summary", "InsertPending", "pending runs overlap")
		}
	}
	return nil
}

// PendingCount returns the number of pending runs awaiting dispatch.
func (s *Summary[T]) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// DispatchData flushes pending runs into the observable cache. Incoming
// buckets whose key is already resident merge with the resident record
// through Combine, so re-summarizing an overlapping range never loses
// extremes. Each dispatched run leaves behind an internal pin view; the
// capacity purge runs after every dispatch with the newest run's span
// protected.
func (s *Summary[T]) DispatchData() {
	s.mu.Lock()
	runs := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(runs) == 0 {
		return
	}

	var protected types.TimeRange
	for _, run := range runs {
		for i, d := range run.buckets {
			key := BucketStart(d.OriginatingTime, s.interval)
			if resident, ok := s.cache.Find(key, view.Exact); ok {
				run.buckets[i] = s.summarizer.Combine(resident, d)
			}
		}
		s.cache.AddRange(run.buckets)

		protected = run.span(s.interval)
		pin := s.cache.Fixed(protected)
		s.mu.Lock()
		s.pins = append(s.pins, pin)
		s.mu.Unlock()
	}

	s.purge(protected)
}

// purge enforces the bucket capacity. Pass one drops internal pins
// disjoint from the protected range and sweeps unpinned buckets; if the
// cache is still over capacity, pass two keeps only the pin of the run
// just dispatched and sweeps again. Buckets spanned by live caller
// views are never evicted, so a heavily viewed cache can legitimately
// stay over capacity.
func (s *Summary[T]) purge(protected types.TimeRange) {
	if s.cache.Len() <= s.capacity {
		return
	}

	s.mu.Lock()
	kept := s.pins[:0]
	var dropped []*view.View[IntervalData[T]]
	for _, pin := range s.pins {
		if protected.IsValid() && pin.Extent().Overlaps(protected) {
			kept = append(kept, pin)
			continue
		}
		dropped = append(dropped, pin)
	}
	s.pins = kept
	s.mu.Unlock()

	for _, pin := range dropped {
		pin.Close()
	}
	s.cache.RemoveRange(fullRange)

	if s.cache.Len() > s.capacity {
		s.mu.Lock()
		var overlapping []*view.View[IntervalData[T]]
		if n := len(s.pins); n > 1 {
			overlapping = append(overlapping, s.pins[:n-1]...)
			s.pins = s.pins[n-1:]
		}
		s.mu.Unlock()

		for _, pin := range overlapping {
			pin.Close()
		}
		if len(overlapping) > 0 {
			s.cache.RemoveRange(fullRange)
			dropped = append(dropped, overlapping...)
		}
	}

	if s.evictHook != nil && len(dropped) > 0 {
		s.evictHook(len(dropped))
	}

	if s.cache.Len() > s.capacity {
		s.log.Debug("summary cache over capacity after purge",
			"resident", s.cache.Len(), "capacity", s.capacity)
	}
}

// Search returns the bucket containing t, restricted to the live view
// extent containing t when one exists. With Previous or Next the nearest
// bucket on that side is returned when no bucket contains t.
func (s *Summary[T]) Search(t time.Time, mode view.SearchMode) (IntervalData[T], bool) {
	var zero IntervalData[T]

	items := s.cache.All()
	for _, ext := range s.cache.Extents() {
		if ext.Contains(t) {
			// Widen one bucket left so a bucket overlapping the extent
			// start is not cut off by its key.
			items = s.cache.Items(types.NewTimeRange(ext.Start.Add(-s.interval), ext.End))
			break
		}
	}
	if len(items) == 0 {
		return zero, false
	}

	i := sort.Search(len(items), func(j int) bool {
		return items[j].EndTime().After(t) || items[j].Contains(t)
	})
	if i < len(items) && items[i].Contains(t) {
		return items[i], true
	}

	switch mode {
	case view.Previous:
		if i > 0 {
			return items[i-1], true
		}
	case view.Next:
		if i < len(items) {
			return items[i], true
		}
	}
	return zero, false
}

// Close drops the internal pins and clears the cache. Caller views over
// this summary are invalidated.
func (s *Summary[T]) Close() {
	s.mu.Lock()
	pins := s.pins
	s.pins = nil
	s.pending = nil
	s.mu.Unlock()

	for _, pin := range pins {
		pin.Close()
	}
	s.cache.Clear()
}
