// Package stream implements the per-stream reader: the owner of one
// stream's message and index caches. A reader accepts read requests,
// coalesces them against in-flight requests and cached view extents,
// buffers incoming scan data off the read thread, and flushes the buffer
// into the observable caches only when pumped, keeping cache mutation
// single-threaded.
package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/streamview/coalesce"
	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/store"
	"github.com/c360/streamview/types"
	"github.com/c360/streamview/view"
)

// DecodeFunc turns one raw store record into a typed payload. When the
// payload type is pool-backed the decoder acquires the reference the
// resulting message owns. The registry composes codec and adapter into
// one decode function.
type DecodeFunc[T any] func(rec store.Record) (T, error)

// Reader owns one stream's caches and pending read requests.
type Reader[T any] struct {
	binding types.StreamBinding
	decode  DecodeFunc[T]
	release func(T)
	clone   func(T) (T, error)
	log     *slog.Logger

	// Request list lock. Held across coalescing plus registration so two
	// callers cannot issue duplicate overlapping requests.
	mu      sync.Mutex
	pending []types.ReadRequest

	// Buffer lock, always innermost: never held while acquiring mu.
	bufMu    sync.Mutex
	dataBuf  []types.Message[T]
	indexBuf []types.IndexEntry

	dataCache  *view.TimeCache[types.Message[T]]
	indexCache *view.TimeCache[types.IndexEntry]

	canceled atomic.Bool
	closed   atomic.Bool

	instant *instantState[T]
}

// NewReader creates a reader for the bound stream. decode is required.
func NewReader[T any](binding types.StreamBinding, decode DecodeFunc[T], options ...Option[T]) (*Reader[T], error) {
	if err := binding.Validate(); err != nil {
		return nil, err
	}
	if decode == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Reader", "NewReader", "decode function required")
	}

	opts := applyOptions(options...)

	r := &Reader[T]{
		binding: binding,
		decode:  decode,
		release: opts.release,
		clone:   opts.clone,
		log:     opts.log.With("stream", binding.StreamName, "store", binding.StoreName),
	}
	r.dataCache = view.NewTimeCache(
		func(m types.Message[T]) time.Time { return m.OriginatingTime },
		r.releaseMessage,
	)
	r.indexCache = view.NewTimeCache(
		func(e types.IndexEntry) time.Time { return e.OriginatingTime },
		nil,
	)
	r.instant = newInstantState(r, opts.defaultEpsilon, opts.indexPadding)
	return r, nil
}

// releaseMessage is the cache evict hook: one release per message leaving
// the cache.
func (r *Reader[T]) releaseMessage(m types.Message[T]) {
	if r.release != nil {
		r.release(m.Data)
	}
}

// Binding returns the stream binding the reader serves.
func (r *Reader[T]) Binding() types.StreamBinding { return r.binding }

// ReadIndex registers any missing index-only requests for [start, end) and
// returns a fixed view over the index cache. The view auto-updates as
// index entries arrive.
func (r *Reader[T]) ReadIndex(rng types.TimeRange) (*view.View[types.IndexEntry], error) {
	if !rng.IsValid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidRange, "Reader", "ReadIndex", "range validation")
	}

	r.mu.Lock()
	gaps := coalesce.Compute(rng, r.pending, r.indexCache.Extents(), true)
	r.pending = append(r.pending, gaps...)
	v := r.indexCache.Fixed(rng)
	r.mu.Unlock()

	return v, nil
}

// ReadFixed registers any missing data requests for [start, end) and
// returns a fixed view over the data cache.
func (r *Reader[T]) ReadFixed(rng types.TimeRange) (*view.View[types.Message[T]], error) {
	if !rng.IsValid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidRange, "Reader", "ReadFixed", "range validation")
	}

	r.mu.Lock()
	gaps := coalesce.Compute(rng, r.pending, r.dataCache.Extents(), false)
	r.pending = append(r.pending, gaps...)
	v := r.dataCache.Fixed(rng)
	r.mu.Unlock()

	return v, nil
}

// ReadTailCount registers a live request tracking the last n messages and
// returns the matching view. The request stays pending: every pump
// re-scans forward from the latest cached data.
func (r *Reader[T]) ReadTailCount(n uint64) (*view.View[types.Message[T]], error) {
	if n == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidTail, "Reader", "ReadTailCount", "argument validation")
	}

	r.mu.Lock()
	r.pending = append(r.pending, types.ReadRequest{TailCount: n})
	v := r.dataCache.TailCount(n)
	r.mu.Unlock()

	return v, nil
}

// ReadTailRange registers a live request whose range is recomputed from
// the latest time and returns the matching view.
func (r *Reader[T]) ReadTailRange(fn types.TailRangeFunc) (*view.View[types.Message[T]], error) {
	if fn == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidTail, "Reader", "ReadTailRange", "argument validation")
	}

	r.mu.Lock()
	r.pending = append(r.pending, types.ReadRequest{TailRange: fn})
	v := r.dataCache.TailRange(fn)
	r.mu.Unlock()

	return v, nil
}

// CollectRequests snapshots the pending requests with tailing requests
// resolved to concrete scan ranges relative to now and the latest cached
// data. The store reader groups the results into batched scans.
func (r *Reader[T]) CollectRequests(now time.Time) []types.ReadRequest {
	last, ok := r.dataCache.LastTime()
	if !ok {
		last = time.Unix(0, 0).UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.ReadRequest, 0, len(r.pending))
	for _, req := range r.pending {
		if !req.IsTailing() {
			out = append(out, req)
			continue
		}

		resolved := req
		if req.TailRange != nil {
			// The view renders fn(last); fetching fn(now) keeps the cache
			// ahead of the moving window.
			resolved.Range = req.TailRange(now)
			if ok && last.After(resolved.Range.Start) {
				resolved.Range.Start = last.Add(time.Nanosecond)
			}
		} else {
			start := last
			if ok {
				// Resume just past the newest cached message.
				start = last.Add(time.Nanosecond)
			}
			resolved.Range = types.NewTimeRange(start, now)
		}
		if resolved.Range.IsValid() {
			out = append(out, resolved)
		}
	}
	return out
}

// OpenStream wires the reader's callbacks into a freshly opened store
// handle, called once per batched physical scan before any data flows.
// Incoming records are decoded and buffered; the cache mutates only on
// DispatchData.
func (r *Reader[T]) OpenStream(h store.Handle, indicesOnly bool) error {
	if indicesOnly {
		return h.RegisterIndexReceiver(r.binding.StreamName, func(entry types.IndexEntry) error {
			if r.canceled.Load() {
				return nil
			}
			r.bufMu.Lock()
			if r.canceled.Load() {
				r.bufMu.Unlock()
				return nil
			}
			r.indexBuf = append(r.indexBuf, entry)
			r.bufMu.Unlock()
			return nil
		})
	}

	return h.RegisterReceiver(r.binding.StreamName, func(rec store.Record) error {
		if r.canceled.Load() {
			return nil
		}
		data, err := r.decode(rec)
		if err != nil {
			r.log.Warn("dropping undecodable record",
				"originating_time", rec.OriginatingTime, "error", err)
			return nil
		}
		msg := types.NewMessage(data, rec.OriginatingTime, rec.CreationTime, rec.SourceID, rec.SequenceID)

		r.bufMu.Lock()
		if r.canceled.Load() {
			r.bufMu.Unlock()
			r.releaseMessage(msg)
			return nil
		}
		r.dataBuf = append(r.dataBuf, msg)
		r.bufMu.Unlock()
		return nil
	})
}

// CompleteReadRequest removes a now-serviced fixed request from the
// pending set. Tailing requests stay pending for the next pump.
func (r *Reader[T]) CompleteReadRequest(req types.ReadRequest) {
	if req.IsTailing() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pending {
		if p.IsTailing() {
			continue
		}
		if p.Range == req.Range && p.IndicesOnly == req.IndicesOnly {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

// ReissueRequest returns a fixed request to the pending set after its
// scan faulted, so the next pump collects and retries it. While it is
// pending the covered range coalesces as in flight, never as cached.
// Tailing requests stay pending on their own and are ignored here.
func (r *Reader[T]) ReissueRequest(req types.ReadRequest) {
	if req.IsTailing() || r.canceled.Load() {
		return
	}
	r.mu.Lock()
	r.pending = append(r.pending, req)
	r.mu.Unlock()
}

// PendingOverlaps reports whether any pending request with the given
// index flag overlaps rng. The summary layer uses it to hold off
// summarizing a range until its raw reads have drained.
func (r *Reader[T]) PendingOverlaps(rng types.TimeRange, indicesOnly bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.pending {
		if req.IsTailing() || req.IndicesOnly != indicesOnly {
			continue
		}
		if req.Range.Overlaps(rng) {
			return true
		}
	}
	return false
}

// PendingCount returns the number of pending requests.
func (r *Reader[T]) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// DispatchData moves buffered messages and index entries into the
// observable caches in one batch per cache. Safe to call with nothing
// pending. Observers see all of a batch or none of it.
func (r *Reader[T]) DispatchData() {
	r.bufMu.Lock()
	data := r.dataBuf
	index := r.indexBuf
	r.dataBuf = nil
	r.indexBuf = nil
	r.bufMu.Unlock()

	if len(data) > 0 {
		r.dataCache.AddRange(data)
	}
	if len(index) > 0 {
		r.indexCache.AddRange(index)
	}
}

// Read synchronously fetches and decodes exactly one message by its index
// entry.
func (r *Reader[T]) Read(h store.Handle, entry types.IndexEntry) (types.Message[T], error) {
	var zero types.Message[T]

	rec, err := h.ReadAt(r.binding.StreamName, entry)
	if err != nil {
		return zero, errors.Wrap(err, "Reader", "Read", "record fetch")
	}
	data, err := r.decode(rec)
	if err != nil {
		return zero, errors.Wrap(err, "Reader", "Read", "record decode")
	}
	return types.NewMessage(data, rec.OriginatingTime, rec.CreationTime, rec.SourceID, rec.SequenceID), nil
}

// CacheLen returns the number of cached data messages.
func (r *Reader[T]) CacheLen() int { return r.dataCache.Len() }

// IndexLen returns the number of cached index entries.
func (r *Reader[T]) IndexLen() int { return r.indexCache.Len() }

// Cancel stops further buffering. One-way: a canceled reader silently
// drops incoming callback data; work already in flight finishes
// harmlessly.
func (r *Reader[T]) Cancel() {
	r.canceled.Store(true)
}

// Canceled reports whether the reader has been canceled.
func (r *Reader[T]) Canceled() bool { return r.canceled.Load() }

// Close cancels the reader, releases every pooled payload still resident
// in the buffer and the caches, and clears them. The owning store reader
// awaits outstanding scan tasks before calling Close, so no callback can
// race the teardown.
func (r *Reader[T]) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.Cancel()

	r.instant.close()

	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()

	r.bufMu.Lock()
	data := r.dataBuf
	r.dataBuf = nil
	r.indexBuf = nil
	r.bufMu.Unlock()
	for _, msg := range data {
		r.releaseMessage(msg)
	}

	// Cache Clear runs the evict hook for every resident message.
	r.dataCache.Clear()
	r.indexCache.Clear()
	return nil
}
