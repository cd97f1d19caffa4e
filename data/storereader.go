package data

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/metric"
	"github.com/c360/streamview/store"
	"github.com/c360/streamview/types"
)

// source is the type-erased face of a typed stream reader. Typed
// operations (views, instant target registration) go through the generic
// package functions; everything the pump and the store reader need is
// type-free and lives here. *stream.Reader[T] satisfies it for every T.
type source interface {
	Binding() types.StreamBinding
	CollectRequests(now time.Time) []types.ReadRequest
	OpenStream(h store.Handle, indicesOnly bool) error
	CompleteReadRequest(req types.ReadRequest)
	DispatchData()
	ReadInstantData(ctx context.Context, cursor time.Time, h store.Handle) error
	OnInstantViewRangeChanged(viewport types.TimeRange) error
	CacheLen() int
	IndexLen() int
	UnregisterInstantTarget(token uuid.UUID) error
	UpdateInstantTargetEpsilon(token uuid.UUID, epsilon time.Duration) error
	InstantTargetCount() int
	ReissueRequest(req types.ReadRequest)
	Cancel()
	Close() error
}

// scanGroup is one batched physical scan: every pending request across
// all streams sharing an identical range rides a single sequential pass.
type scanGroup struct {
	rng     types.TimeRange
	members []scanMember
}

type scanMember struct {
	src source
	req types.ReadRequest
}

// execContext tracks one in-flight scan so disposal can cancel and await
// it and the reaper can surface its fault. The members are kept so a
// faulted scan's requests can be returned to their readers for retry.
type execContext struct {
	rng     types.TimeRange
	members []scanMember
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// StoreReader owns the lazily created stream readers of one physical
// store and batches their pending requests into shared sequential scans.
type StoreReader struct {
	name     string
	path     string
	base     store.Handle
	log      *slog.Logger
	metrics  *metric.Metrics
	registry *Registry
	maxScans int

	mu      sync.Mutex
	readers map[string]source
	execs   []*execContext
	closed  bool
}

// NewStoreReader opens the base handle for the addressed store.
// maxScans bounds concurrent sequential scans; zero means unbounded.
func NewStoreReader(provider store.Provider, name, path string, registry *Registry, maxScans int, log *slog.Logger, metrics *metric.Metrics) (*StoreReader, error) {
	if provider == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "StoreReader", "NewStoreReader", "provider required")
	}
	if log == nil {
		log = slog.Default()
	}

	base, err := provider.Open(name, path)
	if err != nil {
		return nil, errors.Wrap(err, "StoreReader", "NewStoreReader", "store open")
	}
	return &StoreReader{
		name:     name,
		path:     path,
		base:     base,
		log:      log.With("store", name),
		metrics:  metrics,
		registry: registry,
		maxScans: maxScans,
		readers:  make(map[string]source),
	}, nil
}

// Handle returns the base handle, used for synchronous one-record reads.
func (sr *StoreReader) Handle() store.Handle { return sr.base }

// sourceIfPresent returns the reader keyed by ReaderKey when one exists.
func (sr *StoreReader) sourceIfPresent(key string) (source, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	src, ok := sr.readers[key]
	return src, ok
}

// putSource registers a freshly built reader unless one raced it in, in
// which case the existing reader wins and the fresh one is closed.
func (sr *StoreReader) putSource(key string, src source) (source, error) {
	sr.mu.Lock()
	if sr.closed {
		sr.mu.Unlock()
		src.Close()
		return nil, errors.WrapInvalid(errors.ErrStoreClosed, "StoreReader", "putSource", "store reader closed")
	}
	if existing, ok := sr.readers[key]; ok {
		sr.mu.Unlock()
		src.Close()
		return existing, nil
	}
	sr.readers[key] = src
	sr.mu.Unlock()
	return src, nil
}

// sources snapshots the current readers.
func (sr *StoreReader) sources() []source {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	out := make([]source, 0, len(sr.readers))
	for _, src := range sr.readers {
		out = append(out, src)
	}
	return out
}

// Run executes the batching phase of one pump cycle: reap finished
// scans, collect pending requests from every stream reader, group the
// identical ranges, and launch one sequential scan per group.
func (sr *StoreReader) Run(ctx context.Context, now time.Time) {
	sr.reap()

	sr.mu.Lock()
	active := len(sr.execs)
	sr.mu.Unlock()

	// Groups beyond the scan bound stay pending and re-coalesce next
	// cycle.
	for _, g := range sr.collect(now) {
		if sr.maxScans > 0 && active >= sr.maxScans {
			return
		}
		if err := sr.launch(ctx, g); err != nil {
			sr.log.Warn("scan launch failed", "range", g.rng, "error", err)
			continue
		}
		active++
	}
}

// collect gathers pending requests across streams and groups them by
// identical (Start, End). Collection does not complete the requests;
// launch does, once every member's callbacks are wired, so a group that
// fails to open stays pending for the next cycle.
func (sr *StoreReader) collect(now time.Time) []scanGroup {
	var order []types.TimeRange
	byRange := make(map[types.TimeRange]*scanGroup)

	for _, src := range sr.sources() {
		for _, req := range src.CollectRequests(now) {
			kind := "data"
			if req.IndicesOnly {
				kind = "index"
			}
			if sr.metrics != nil {
				sr.metrics.RequestsIssued.WithLabelValues(sr.name, kind).Inc()
			}

			g, ok := byRange[req.Range]
			if !ok {
				g = &scanGroup{rng: req.Range}
				byRange[req.Range] = g
				order = append(order, req.Range)
			}
			g.members = append(g.members, scanMember{src: src, req: req})
		}
	}

	out := make([]scanGroup, 0, len(order))
	for _, rng := range order {
		out = append(out, *byRange[rng])
	}
	return out
}

// launch opens a fresh handle, wires every member's callbacks, marks the
// member requests complete, and starts the sequential scan on its own
// goroutine under a cancelable execution context.
func (sr *StoreReader) launch(ctx context.Context, g scanGroup) error {
	fresh, err := sr.base.OpenNew()
	if err != nil {
		return errors.Wrap(err, "StoreReader", "launch", "handle open")
	}

	for _, m := range g.members {
		if err := m.src.OpenStream(fresh, m.req.IndicesOnly); err != nil {
			fresh.Close()
			return errors.Wrap(err, "StoreReader", "launch", "stream open")
		}
	}
	for _, m := range g.members {
		m.src.CompleteReadRequest(m.req)
	}

	scanCtx, cancel := context.WithCancel(ctx)
	exec := &execContext{rng: g.rng, members: g.members, cancel: cancel, done: make(chan struct{})}

	sr.mu.Lock()
	if sr.closed {
		sr.mu.Unlock()
		cancel()
		fresh.Close()
		return errors.WrapInvalid(errors.ErrStoreClosed, "StoreReader", "launch", "store reader closed")
	}
	sr.execs = append(sr.execs, exec)
	sr.mu.Unlock()

	if sr.metrics != nil {
		sr.metrics.ScansLaunched.WithLabelValues(sr.name).Inc()
		sr.metrics.ScansActive.Inc()
	}

	go func() {
		started := time.Now()
		err := fresh.ReadAll(scanCtx, g.rng)
		fresh.Close()
		cancel()

		exec.err = err
		close(exec.done)

		if sr.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			sr.metrics.ScanDuration.WithLabelValues(sr.name, status).Observe(time.Since(started).Seconds())
			sr.metrics.ScansActive.Dec()
		}
	}()
	return nil
}

// ScanOverlaps reports whether any tracked scan covers part of rng. A
// finished scan counts until the reaper retires it: its data may still
// sit undispatched in stream buffers.
func (sr *StoreReader) ScanOverlaps(rng types.TimeRange) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	for _, exec := range sr.execs {
		if exec.rng.Overlaps(rng) {
			return true
		}
	}
	return false
}

// reap drops finished execution contexts, logging faults. A canceled
// scan is not a fault. A faulted scan's requests were already marked
// complete at launch and their view extents claim coverage, so they are
// returned to their readers here; the same cycle's collect picks them
// up and the scan retries.
func (sr *StoreReader) reap() {
	sr.mu.Lock()
	kept := sr.execs[:0]
	var finished []*execContext
	for _, exec := range sr.execs {
		select {
		case <-exec.done:
			finished = append(finished, exec)
		default:
			kept = append(kept, exec)
		}
	}
	sr.execs = kept
	sr.mu.Unlock()

	for _, exec := range finished {
		if exec.err == nil || errors.Is(exec.err, context.Canceled) {
			continue
		}
		sr.log.Warn("scan faulted", "range", exec.rng, "error", exec.err)
		if sr.metrics != nil {
			sr.metrics.ErrorsTotal.WithLabelValues("StoreReader", errors.Classify(exec.err).String()).Inc()
		}
		for _, m := range exec.members {
			m.src.ReissueRequest(m.req)
		}
	}
}

// DispatchData flushes every stream reader's buffer into its caches.
func (sr *StoreReader) DispatchData() {
	var data, index int
	for _, src := range sr.sources() {
		src.DispatchData()
		data += src.CacheLen()
		index += src.IndexLen()
	}
	if sr.metrics != nil {
		sr.metrics.CachedItems.WithLabelValues(sr.name, "data").Set(float64(data))
		sr.metrics.CachedItems.WithLabelValues(sr.name, "index").Set(float64(index))
	}
}

// Close cancels every reader and in-flight scan, awaits the scans, then
// closes the readers and the base handle.
func (sr *StoreReader) Close() error {
	sr.mu.Lock()
	if sr.closed {
		sr.mu.Unlock()
		return nil
	}
	sr.closed = true
	readers := make([]source, 0, len(sr.readers))
	for _, src := range sr.readers {
		readers = append(readers, src)
	}
	sr.readers = map[string]source{}
	execs := sr.execs
	sr.execs = nil
	sr.mu.Unlock()

	for _, src := range readers {
		src.Cancel()
	}
	for _, exec := range execs {
		exec.cancel()
	}
	for _, exec := range execs {
		<-exec.done
	}
	for _, src := range readers {
		src.Close()
	}
	return sr.base.Close()
}
