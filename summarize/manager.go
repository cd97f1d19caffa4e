package summarize

import (
	"log/slog"
	"sync"
	"time"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/stream"
	"github.com/c360/streamview/types"
	"github.com/c360/streamview/view"
)

// Manager owns every summary interval computed for one stream. It
// translates summary reads into raw data reads on the stream reader,
// tracks the summarization tasks those reads spawn, and completes them
// during the dispatch phase once the raw reads have drained.
type Manager[T any] struct {
	reader     *stream.Reader[T]
	summarizer Summarizer[T]
	capacity   int
	log        *slog.Logger
	evictHook  func(ranges int)

	// pendingProbe, when set, reports raw fetch work still in flight for
	// a range beyond the reader's own pending list (batched scans mark
	// requests complete at launch, before data lands).
	pendingProbe func(rng types.TimeRange) bool

	mu        sync.Mutex
	summaries map[time.Duration]*Summary[T]
	tasks     []*summaryTask[T]
	tails     []*tailTask[T]
	closed    bool
}

// summaryTask is one outstanding fixed-range summarization: raw data for
// rng has been requested; once no pending raw read overlaps rng the raw
// view's contents are summarized and the task retires.
type summaryTask[T any] struct {
	summary *Summary[T]
	rng     types.TimeRange
	raw     *view.View[types.Message[T]]
}

// tailTask is a live summarization: its raw tail view follows the
// stream, and each dispatch summarizes only the messages newer than the
// last one seen. Boundary merge in the summary cache reconciles the
// partial bucket at the seam.
type tailTask[T any] struct {
	summary  *Summary[T]
	raw      *view.View[types.Message[T]]
	lastSeen time.Time
}

// ManagerOption configures a Manager.
type ManagerOption[T any] func(*Manager[T])

// WithCacheCapacity bounds the resident buckets per summary interval.
func WithCacheCapacity[T any](n int) ManagerOption[T] {
	return func(m *Manager[T]) { m.capacity = n }
}

// WithManagerLogger sets the logger.
func WithManagerLogger[T any](log *slog.Logger) ManagerOption[T] {
	return func(m *Manager[T]) {
		if log != nil {
			m.log = log
		}
	}
}

// WithEvictionHook observes the pinned ranges dropped by each summary
// purge pass, for metrics.
func WithEvictionHook[T any](fn func(ranges int)) ManagerOption[T] {
	return func(m *Manager[T]) { m.evictHook = fn }
}

// WithPendingProbe adds a check for raw fetch work in flight for a range
// that the reader's pending list no longer tracks, such as a launched
// but unfinished store scan.
func WithPendingProbe[T any](fn func(rng types.TimeRange) bool) ManagerOption[T] {
	return func(m *Manager[T]) { m.pendingProbe = fn }
}

// NewManager creates a summary manager over reader using summarizer.
func NewManager[T any](reader *stream.Reader[T], summarizer Summarizer[T], options ...ManagerOption[T]) (*Manager[T], error) {
	if reader == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "NewManager", "reader required")
	}
	if summarizer == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "NewManager", "summarizer required")
	}

	m := &Manager[T]{
		reader:     reader,
		summarizer: summarizer,
		capacity:   DefaultCacheCapacity,
		log:        slog.Default(),
		summaries:  make(map[time.Duration]*Summary[T]),
	}
	for _, opt := range options {
		opt(m)
	}
	m.log = m.log.With("stream", reader.Binding().StreamName, "summarizer", summarizer.Name())
	return m, nil
}

// summaryLocked returns the summary for interval, creating it on first
// use. Callers hold m.mu.
func (m *Manager[T]) summaryLocked(interval time.Duration) (*Summary[T], error) {
	if s, ok := m.summaries[interval]; ok {
		return s, nil
	}
	s, err := NewSummary(interval, m.summarizer, m.capacity, m.log)
	if err != nil {
		return nil, err
	}
	s.evictHook = m.evictHook
	m.summaries[interval] = s
	return s, nil
}

// ReadSummary returns a live view over the buckets covering rng at the
// given interval. Gaps in summary coverage trigger raw data reads plus
// summarization tasks; the view fills in as buckets are dispatched.
func (m *Manager[T]) ReadSummary(rng types.TimeRange, interval time.Duration) (*view.View[IntervalData[T]], error) {
	if !rng.IsValid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidRange, "Manager", "ReadSummary", "range validation")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.WrapInvalid(errors.ErrClosed, "Manager", "ReadSummary", "manager closed")
	}

	s, err := m.summaryLocked(interval)
	if err != nil {
		return nil, err
	}

	// Gaps are computed before the caller view registers, so the new
	// view's extent cannot mask them.
	gaps := s.MissingRanges(rng)
	v := s.View(rng)

	for _, gap := range gaps {
		raw, err := m.reader.ReadFixed(gap)
		if err != nil {
			v.Close()
			return nil, errors.Wrap(err, "Manager", "ReadSummary", "raw data request")
		}
		m.tasks = append(m.tasks, &summaryTask[T]{summary: s, rng: gap, raw: raw})
	}
	return v, nil
}

// ReadSummaryTailCount returns a live view over the most recent n
// buckets. Raw data is tracked with a sliding tail window wide enough to
// populate n buckets.
func (m *Manager[T]) ReadSummaryTailCount(n uint64, interval time.Duration) (*view.View[IntervalData[T]], error) {
	if n == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidTail, "Manager", "ReadSummaryTailCount", "argument validation")
	}
	window := interval * time.Duration(n+1)
	return m.readSummaryTail(interval, func(last time.Time) types.TimeRange {
		return types.NewTimeRange(last.Add(-window), last)
	}, func(s *Summary[T]) *view.View[IntervalData[T]] {
		return s.TailCountView(n)
	})
}

// ReadSummaryTailRange returns a live view over the buckets within a
// range recomputed from the latest time.
func (m *Manager[T]) ReadSummaryTailRange(fn types.TailRangeFunc, interval time.Duration) (*view.View[IntervalData[T]], error) {
	if fn == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidTail, "Manager", "ReadSummaryTailRange", "argument validation")
	}
	return m.readSummaryTail(interval, fn, func(s *Summary[T]) *view.View[IntervalData[T]] {
		return s.TailRangeView(fn)
	})
}

func (m *Manager[T]) readSummaryTail(interval time.Duration, rawFn types.TailRangeFunc, newView func(*Summary[T]) *view.View[IntervalData[T]]) (*view.View[IntervalData[T]], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.WrapInvalid(errors.ErrClosed, "Manager", "readSummaryTail", "manager closed")
	}

	s, err := m.summaryLocked(interval)
	if err != nil {
		return nil, err
	}
	raw, err := m.reader.ReadTailRange(rawFn)
	if err != nil {
		return nil, errors.Wrap(err, "Manager", "readSummaryTail", "raw tail request")
	}

	v := newView(s)
	m.tails = append(m.tails, &tailTask[T]{summary: s, raw: raw})
	return v, nil
}

// DispatchData runs the summarization phase of a pump cycle: fixed tasks
// whose raw reads have drained are summarized and retired, live tails
// summarize their newly arrived messages, and every summary flushes its
// pending runs into its observable cache.
// Only the pump goroutine calls DispatchData, so task and tail state is
// processed outside m.mu: cache flushes fire view observers, which may
// call back into the read surface.
func (m *Manager[T]) DispatchData() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	tasks := m.tasks
	m.tasks = nil
	tails := append([]*tailTask[T]{}, m.tails...)
	summaries := make([]*Summary[T], 0, len(m.summaries))
	for _, s := range m.summaries {
		summaries = append(summaries, s)
	}
	m.mu.Unlock()

	var held []*summaryTask[T]
	for _, task := range tasks {
		if m.rawPending(task.rng) {
			held = append(held, task)
			continue
		}
		msgs := task.raw.Items()
		buckets := m.summarizer.Summarize(msgs, task.summary.Interval())
		if err := task.summary.InsertPending(buckets); err != nil {
			m.log.Warn("dropping summarized range", "range", task.rng, "error", err)
		}
		task.raw.Close()
	}
	if len(held) > 0 {
		m.mu.Lock()
		m.tasks = append(held, m.tasks...)
		m.mu.Unlock()
	}

	for _, tail := range tails {
		var fresh []types.Message[T]
		for _, msg := range tail.raw.Items() {
			if msg.OriginatingTime.After(tail.lastSeen) {
				fresh = append(fresh, msg)
			}
		}
		if len(fresh) == 0 {
			continue
		}
		buckets := m.summarizer.Summarize(fresh, tail.summary.Interval())
		if err := tail.summary.InsertPending(buckets); err != nil {
			m.log.Warn("dropping tail summary batch", "error", err)
		}
		tail.lastSeen = fresh[len(fresh)-1].OriginatingTime
	}

	for _, s := range summaries {
		s.DispatchData()
	}
}

// rawPending reports whether raw data for rng is still being fetched.
func (m *Manager[T]) rawPending(rng types.TimeRange) bool {
	if m.reader.PendingOverlaps(rng, false) {
		return true
	}
	return m.pendingProbe != nil && m.pendingProbe(rng)
}

// FindPreviousDataPoint returns the time of the nearest summarized data
// point at or before t, probing coarser intervals (doubling from
// interval up to the coarsest existing one) until a bucket is found.
// Best effort: t is returned unchanged when nothing is resident.
func (m *Manager[T]) FindPreviousDataPoint(t time.Time, interval time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.probeOrderLocked(interval) {
		if d, ok := s.Search(t, view.Previous); ok {
			return d.OriginatingTime
		}
	}
	return t
}

// FindNextDataPoint returns the time of the nearest summarized data
// point at or after t, with the same probing as FindPreviousDataPoint.
func (m *Manager[T]) FindNextDataPoint(t time.Time, interval time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.probeOrderLocked(interval) {
		if d, ok := s.Search(t, view.Next); ok {
			if d.OriginatingTime.Before(t) {
				// The bucket straddles t; its far edge is the next point.
				return d.EndTime()
			}
			return d.OriginatingTime
		}
	}
	return t
}

// probeOrderLocked returns existing summaries in doubling-interval order
// starting at interval and capped at the coarsest interval present.
func (m *Manager[T]) probeOrderLocked(interval time.Duration) []*Summary[T] {
	if interval <= 0 {
		return nil
	}
	var coarsest time.Duration
	for iv := range m.summaries {
		if iv > coarsest {
			coarsest = iv
		}
	}

	var out []*Summary[T]
	for probe := interval; probe <= coarsest; probe *= 2 {
		if s, ok := m.summaries[probe]; ok {
			out = append(out, s)
		}
	}
	return out
}

// SummaryCount returns the number of distinct intervals in use.
func (m *Manager[T]) SummaryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.summaries)
}

// TaskCount returns the number of outstanding fixed summarization tasks.
func (m *Manager[T]) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Close retires every task and summary. The stream reader is owned by
// the caller and stays open.
func (m *Manager[T]) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	tasks := m.tasks
	tails := m.tails
	summaries := m.summaries
	m.tasks = nil
	m.tails = nil
	m.summaries = nil
	m.mu.Unlock()

	for _, task := range tasks {
		task.raw.Close()
	}
	for _, tail := range tails {
		tail.raw.Close()
	}
	for _, s := range summaries {
		s.Close()
	}
	return nil
}
