package data

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/streamview/config"
	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/metric"
	"github.com/c360/streamview/store"
	"github.com/c360/streamview/types"
)

// summarySource is the type-erased face of a typed summary manager.
type summarySource interface {
	DispatchData()
	FindPreviousDataPoint(t time.Time, interval time.Duration) time.Time
	FindNextDataPoint(t time.Time, interval time.Duration) time.Time
	Close() error
}

// Manager is the engine front door. It owns one store reader per
// physical store and one summary manager per (reader, summarizer)
// identity, both created lazily on first read, and drives the two-phase
// pump: batch pending requests into scans, then dispatch buffered data
// into the observable caches. Construct one per host; there is no
// process-global instance.
type Manager struct {
	provider store.Provider
	registry *Registry
	cfg      config.Config
	log      *slog.Logger
	metrics  *metric.Metrics

	mu        sync.Mutex
	stores    map[string]*StoreReader
	summaries map[string]summarySource

	started atomic.Bool
	closed  atomic.Bool
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// Latest-wins instant cursor scheduling: one in-flight task loops
	// take-and-clear until no cursor update is waiting.
	cursorMu  sync.Mutex
	cursor    time.Time
	cursorSet bool
	inFlight  bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConfig sets the engine configuration.
func WithConfig(cfg config.Config) ManagerOption {
	return func(m *Manager) { m.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithMetrics wires the engine metrics from a metrics registry.
func WithMetrics(reg *metric.MetricsRegistry) ManagerOption {
	return func(m *Manager) {
		if reg != nil {
			m.metrics = reg.CoreMetrics()
		}
	}
}

// NewManager creates a manager reading stores through provider and
// resolving stream types through registry.
func NewManager(provider store.Provider, registry *Registry, options ...ManagerOption) (*Manager, error) {
	if provider == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "NewManager", "store provider required")
	}
	if registry == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "NewManager", "registry required")
	}

	m := &Manager{
		provider:  provider,
		registry:  registry,
		cfg:       config.Default(),
		log:       slog.Default(),
		stores:    make(map[string]*StoreReader),
		summaries: make(map[string]summarySource),
	}
	for _, opt := range options {
		opt(m)
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Start launches the pump. The pump runs until ctx is canceled or Close
// is called.
func (m *Manager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return errors.WrapInvalid(errors.ErrClosed, "Manager", "Start", "manager closed")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Start", "lifecycle check")
	}

	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.pumpLoop()
	m.log.Info("data manager started", "pump_interval", m.cfg.PumpInterval)
	return nil
}

func (m *Manager) pumpLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.PumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.runCtx.Done():
			return
		case <-ticker.C:
			m.Pump(time.Now())
		}
	}
}

// Pump runs one batch-and-dispatch cycle. Phase one launches batched
// scans for every pending request; phase two flushes scan buffers into
// the caches and completes summarization. Data fetched in a cycle
// becomes visible no earlier than the following cycle's dispatch.
// Exported so hosts without a ticker (tests, single-step tools) can
// drive the engine manually.
func (m *Manager) Pump(now time.Time) {
	started := time.Now()

	for _, sr := range m.storeReaders() {
		sr.Run(m.pumpContext(), now)
	}
	for _, sr := range m.storeReaders() {
		sr.DispatchData()
	}
	for _, s := range m.summarySources() {
		s.DispatchData()
	}

	if m.metrics != nil {
		m.metrics.PumpTicks.Inc()
		m.metrics.PumpDuration.Observe(time.Since(started).Seconds())
	}
}

func (m *Manager) pumpContext() context.Context {
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}

func (m *Manager) storeReaders() []*StoreReader {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*StoreReader, 0, len(m.stores))
	for _, sr := range m.stores {
		out = append(out, sr)
	}
	return out
}

func (m *Manager) summarySources() []summarySource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]summarySource, 0, len(m.summaries))
	for _, s := range m.summaries {
		out = append(out, s)
	}
	return out
}

// summaryEvicted feeds the summary retention metric.
func (m *Manager) summaryEvicted(ranges int) {
	if m.metrics != nil {
		m.metrics.SummaryEvictions.Add(float64(ranges))
	}
}

// storeReader returns the store reader for the binding, creating it on
// first use.
func (m *Manager) storeReader(b types.StreamBinding) (*StoreReader, error) {
	if m.closed.Load() {
		return nil, errors.WrapInvalid(errors.ErrClosed, "Manager", "storeReader", "manager closed")
	}
	key := b.StoreKey()

	m.mu.Lock()
	sr, ok := m.stores[key]
	m.mu.Unlock()
	if ok {
		return sr, nil
	}

	fresh, err := NewStoreReader(m.provider, b.StoreName, b.StorePath, m.registry, m.cfg.ScanWorkers, m.log, m.metrics)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.stores[key]; ok {
		m.mu.Unlock()
		fresh.Close()
		return existing, nil
	}
	m.stores[key] = fresh
	m.mu.Unlock()
	return fresh, nil
}

// sourceIfPresent resolves an existing stream reader without creating
// one. Unbound operations on absent readers are no-ops, not errors.
func (m *Manager) sourceIfPresent(b types.StreamBinding) (source, bool) {
	m.mu.Lock()
	sr, ok := m.stores[b.StoreKey()]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return sr.sourceIfPresent(b.ReaderKey())
}

// OnInstantViewRangeChanged re-centers the instant index window of the
// bound stream. A no-op when the stream has no reader yet.
func (m *Manager) OnInstantViewRangeChanged(b types.StreamBinding, viewport types.TimeRange) error {
	src, ok := m.sourceIfPresent(b)
	if !ok {
		return nil
	}
	return src.OnInstantViewRangeChanged(viewport)
}

// UnregisterInstantDataTarget removes a push target.
func (m *Manager) UnregisterInstantDataTarget(b types.StreamBinding, token uuid.UUID) error {
	src, ok := m.sourceIfPresent(b)
	if !ok {
		return errors.WrapInvalid(errors.ErrTargetNotFound, "Manager", "UnregisterInstantDataTarget", "reader lookup")
	}
	return src.UnregisterInstantTarget(token)
}

// UpdateInstantDataTargetEpsilon changes a push target's cursor window.
func (m *Manager) UpdateInstantDataTargetEpsilon(b types.StreamBinding, token uuid.UUID, epsilon time.Duration) error {
	src, ok := m.sourceIfPresent(b)
	if !ok {
		return errors.WrapInvalid(errors.ErrTargetNotFound, "Manager", "UpdateInstantDataTargetEpsilon", "reader lookup")
	}
	return src.UpdateInstantTargetEpsilon(token, epsilon)
}

// ReadInstantData schedules a cursor read for every registered instant
// target. Latest wins: rapid cursor moves collapse to the newest value,
// served by at most one in-flight task that re-checks for a newer cursor
// before retiring.
func (m *Manager) ReadInstantData(cursor time.Time) {
	if m.closed.Load() {
		return
	}

	m.cursorMu.Lock()
	if m.cursorSet && m.metrics != nil {
		m.metrics.InstantCoalesced.Inc()
	}
	m.cursor = cursor
	m.cursorSet = true
	if m.inFlight {
		m.cursorMu.Unlock()
		return
	}
	m.inFlight = true
	m.cursorMu.Unlock()

	go m.instantLoop()
}

func (m *Manager) instantLoop() {
	for {
		m.cursorMu.Lock()
		if !m.cursorSet {
			m.inFlight = false
			m.cursorMu.Unlock()
			return
		}
		cursor := m.cursor
		m.cursorSet = false
		m.cursorMu.Unlock()

		m.serveInstant(cursor)
	}
}

// serveInstant fans the cursor out to every reader with registered
// targets in parallel.
func (m *Manager) serveInstant(cursor time.Time) {
	ctx := m.pumpContext()
	g, ctx := errgroup.WithContext(ctx)

	for _, sr := range m.storeReaders() {
		for _, src := range sr.sources() {
			if src.InstantTargetCount() == 0 {
				continue
			}
			h := sr.Handle()
			src := src
			g.Go(func() error {
				return src.ReadInstantData(ctx, cursor, h)
			})
		}
	}
	if err := g.Wait(); err != nil {
		m.log.Warn("instant read failed", "cursor", cursor, "error", err)
	}
	if m.metrics != nil {
		m.metrics.InstantReads.Inc()
	}
}

// FindPreviousDataPoint returns the time of the nearest summarized data
// point at or before t for the bound stream's summaries. Best effort: t
// comes back unchanged when nothing is cached.
func (m *Manager) FindPreviousDataPoint(b types.StreamBinding, t time.Time, interval time.Duration) time.Time {
	m.mu.Lock()
	s, ok := m.summaries[b.SummarizerKey()]
	m.mu.Unlock()
	if !ok {
		return t
	}
	return s.FindPreviousDataPoint(t, interval)
}

// FindNextDataPoint returns the time of the nearest summarized data
// point at or after t, with the same best-effort contract.
func (m *Manager) FindNextDataPoint(b types.StreamBinding, t time.Time, interval time.Duration) time.Time {
	m.mu.Lock()
	s, ok := m.summaries[b.SummarizerKey()]
	m.mu.Unlock()
	if !ok {
		return t
	}
	return s.FindNextDataPoint(t, interval)
}

// Close stops the pump and tears down summary managers and store
// readers. In-flight scans are canceled and awaited.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}

	m.mu.Lock()
	summaries := m.summaries
	stores := m.stores
	m.summaries = map[string]summarySource{}
	m.stores = map[string]*StoreReader{}
	m.mu.Unlock()

	for _, s := range summaries {
		s.Close()
	}
	var firstErr error
	for _, sr := range stores {
		if err := sr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.log.Info("data manager closed")
	return firstErr
}
