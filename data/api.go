package data

import (
	"time"

	"github.com/google/uuid"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/stream"
	"github.com/c360/streamview/summarize"
	"github.com/c360/streamview/types"
	"github.com/c360/streamview/view"
)

// The typed read surface lives in package functions rather than methods:
// Go methods cannot introduce type parameters, so each function asserts
// the manager's type-erased reader back to its concrete payload type.

// readerFor resolves the stream reader for b, creating it through the
// registry on first use. A binding already served with a different
// payload type fails with ErrCodecMismatch.
func readerFor[T any](m *Manager, b types.StreamBinding) (*stream.Reader[T], error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	sr, err := m.storeReader(b)
	if err != nil {
		return nil, err
	}

	key := b.ReaderKey()
	if src, ok := sr.sourceIfPresent(key); ok {
		return assertReader[T](src)
	}

	name := b.AdapterType
	if name == "" {
		name = b.ReaderType
	}
	entry, err := decoderFor[T](m.registry, name)
	if err != nil {
		return nil, err
	}

	opts := []stream.Option[T]{
		stream.WithLogger[T](m.log),
		stream.WithDefaultEpsilon[T](m.cfg.DefaultEpsilon),
		stream.WithIndexPadding[T](m.cfg.InstantIndexPadding),
	}
	opts = append(opts, entry.options...)

	fresh, err := stream.NewReader(b, entry.decode, opts...)
	if err != nil {
		return nil, err
	}
	src, err := sr.putSource(key, fresh)
	if err != nil {
		return nil, err
	}
	return assertReader[T](src)
}

func assertReader[T any](src source) (*stream.Reader[T], error) {
	typed, ok := src.(*stream.Reader[T])
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrCodecMismatch, "Manager", "readerFor", "stream already bound with a different payload type")
	}
	return typed, nil
}

// summaryFor resolves the summary manager for b's summarizer identity,
// creating it on first use.
func summaryFor[T any](m *Manager, b types.StreamBinding) (*summarize.Manager[T], error) {
	if b.SummarizerType == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidBinding, "Manager", "summaryFor", "binding names no summarizer")
	}

	key := b.SummarizerKey()
	m.mu.Lock()
	boxed, ok := m.summaries[key]
	m.mu.Unlock()
	if ok {
		return assertSummary[T](boxed)
	}

	r, err := readerFor[T](m, b)
	if err != nil {
		return nil, err
	}
	sr, err := m.storeReader(b)
	if err != nil {
		return nil, err
	}
	summarizer, err := summarizerFor[T](m.registry, b.SummarizerType)
	if err != nil {
		return nil, err
	}

	fresh, err := summarize.NewManager(r, summarizer,
		summarize.WithCacheCapacity[T](m.cfg.SummaryCacheCapacity),
		summarize.WithManagerLogger[T](m.log),
		summarize.WithEvictionHook[T](m.summaryEvicted),
		summarize.WithPendingProbe[T](sr.ScanOverlaps),
	)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.summaries[key]; ok {
		m.mu.Unlock()
		fresh.Close()
		return assertSummary[T](existing)
	}
	m.summaries[key] = fresh
	m.mu.Unlock()
	return fresh, nil
}

func assertSummary[T any](s summarySource) (*summarize.Manager[T], error) {
	typed, ok := s.(*summarize.Manager[T])
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrCodecMismatch, "Manager", "summaryFor", "summary already bound with a different payload type")
	}
	return typed, nil
}

// ReadStream returns a live view over the bound stream's messages in
// [rng.Start, rng.End). Missing sub-ranges are fetched by the next pump.
func ReadStream[T any](m *Manager, b types.StreamBinding, rng types.TimeRange) (*view.View[types.Message[T]], error) {
	r, err := readerFor[T](m, b)
	if err != nil {
		return nil, err
	}
	return r.ReadFixed(rng)
}

// ReadStreamTailCount returns a live view tracking the last n messages.
func ReadStreamTailCount[T any](m *Manager, b types.StreamBinding, n uint64) (*view.View[types.Message[T]], error) {
	r, err := readerFor[T](m, b)
	if err != nil {
		return nil, err
	}
	return r.ReadTailCount(n)
}

// ReadStreamTailRange returns a live view whose range is recomputed from
// the latest message time.
func ReadStreamTailRange[T any](m *Manager, b types.StreamBinding, fn types.TailRangeFunc) (*view.View[types.Message[T]], error) {
	r, err := readerFor[T](m, b)
	if err != nil {
		return nil, err
	}
	return r.ReadTailRange(fn)
}

// ReadIndex returns a live view over the stream's index entries in rng.
// The payload type parameter selects the reader; entries themselves are
// untyped.
func ReadIndex[T any](m *Manager, b types.StreamBinding, rng types.TimeRange) (*view.View[types.IndexEntry], error) {
	r, err := readerFor[T](m, b)
	if err != nil {
		return nil, err
	}
	return r.ReadIndex(rng)
}

// ReadSummary returns a live view over interval-summarized buckets
// covering rng.
func ReadSummary[T any](m *Manager, b types.StreamBinding, rng types.TimeRange, interval time.Duration) (*view.View[summarize.IntervalData[T]], error) {
	s, err := summaryFor[T](m, b)
	if err != nil {
		return nil, err
	}
	return s.ReadSummary(rng, interval)
}

// ReadSummaryTailCount returns a live view over the last n buckets.
func ReadSummaryTailCount[T any](m *Manager, b types.StreamBinding, n uint64, interval time.Duration) (*view.View[summarize.IntervalData[T]], error) {
	s, err := summaryFor[T](m, b)
	if err != nil {
		return nil, err
	}
	return s.ReadSummaryTailCount(n, interval)
}

// ReadSummaryTailRange returns a live view over the buckets within a
// range recomputed from the latest time.
func ReadSummaryTailRange[T any](m *Manager, b types.StreamBinding, fn types.TailRangeFunc, interval time.Duration) (*view.View[summarize.IntervalData[T]], error) {
	s, err := summaryFor[T](m, b)
	if err != nil {
		return nil, err
	}
	return s.ReadSummaryTailRange(fn, interval)
}

// Read synchronously fetches and decodes exactly one message by its
// index entry, bypassing the pump.
func Read[T any](m *Manager, b types.StreamBinding, entry types.IndexEntry) (types.Message[T], error) {
	var zero types.Message[T]
	r, err := readerFor[T](m, b)
	if err != nil {
		return zero, err
	}
	sr, err := m.storeReader(b)
	if err != nil {
		return zero, err
	}
	return r.Read(sr.Handle(), entry)
}

// RegisterInstantDataTarget registers a push target receiving the
// message nearest the instant cursor within epsilon. The returned token
// identifies the target for later updates.
func RegisterInstantDataTarget[T any](m *Manager, b types.StreamBinding, epsilon time.Duration, push stream.InstantTarget[T]) (uuid.UUID, error) {
	r, err := readerFor[T](m, b)
	if err != nil {
		return uuid.Nil, err
	}
	return r.RegisterInstantTarget(epsilon, push)
}
