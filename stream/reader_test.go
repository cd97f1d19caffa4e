package stream

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/pkg/pool"
	"github.com/c360/streamview/store"
	"github.com/c360/streamview/types"
)

var epoch = time.Unix(0, 0).UTC()

func at(ms int64) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

func rng(start, end int64) types.TimeRange { return types.NewTimeRange(at(start), at(end)) }

func binding() types.StreamBinding {
	return types.StreamBinding{StoreName: "rec", StorePath: "/mem/rec", StreamName: "x"}
}

// intDecode parses the record payload as an int.
func intDecode(rec store.Record) (int, error) {
	return strconv.Atoi(string(rec.Payload))
}

func newMemStore(t *testing.T, times ...int64) (*store.MemoryStore, store.Handle) {
	t.Helper()
	s := store.NewMemoryStore("rec", "/mem/rec")
	for _, ms := range times {
		appendRec(s, ms)
	}
	h, err := s.Open("rec", "/mem/rec")
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return s, h
}

func appendRec(s *store.MemoryStore, ms int64) {
	s.Append("x", store.Record{
		OriginatingTime: at(ms),
		CreationTime:    at(ms),
		SequenceID:      int(ms),
		Payload:         []byte(strconv.FormatInt(ms, 10)),
	})
}

// pump runs one batch-and-dispatch cycle the way the store reader does:
// resolve requests, wire callbacks against a fresh handle, scan, flush.
func pump(t *testing.T, r *Reader[int], h store.Handle, now time.Time) {
	t.Helper()
	for _, req := range r.CollectRequests(now) {
		fresh, err := h.OpenNew()
		require.NoError(t, err)
		require.NoError(t, r.OpenStream(fresh, req.IndicesOnly))
		r.CompleteReadRequest(req)
		require.NoError(t, fresh.ReadAll(context.Background(), req.Range))
		fresh.Close()
	}
	r.DispatchData()
}

func msgValues(msgs []types.Message[int]) []int {
	out := make([]int, len(msgs))
	for i, m := range msgs {
		out[i] = m.Data
	}
	return out
}

func TestNewReaderValidation(t *testing.T) {
	_, err := NewReader[int](types.StreamBinding{}, intDecode)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewReader[int](binding(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestReadFixedEndToEnd(t *testing.T) {
	s, h := newMemStore(t, 0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100)
	r, err := NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()

	v, err := r.ReadFixed(rng(0, 51))
	require.NoError(t, err)
	defer v.Close()

	assert.Empty(t, v.Items(), "no data before the pump runs")

	pump(t, r, h, at(200))

	assert.Equal(t, []int{0, 10, 20, 30, 40, 50}, msgValues(v.Items()))
	assert.Zero(t, r.PendingCount())
	require.Len(t, s.ScanRanges(), 1)
	assert.Equal(t, rng(0, 51), s.ScanRanges()[0])
}

func TestOverlappingRequestScansOnlyTheGap(t *testing.T) {
	s, h := newMemStore(t, 0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100)
	r, err := NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()

	v1, err := r.ReadFixed(rng(0, 50))
	require.NoError(t, err)
	defer v1.Close()
	pump(t, r, h, at(200))

	// Second, overlapping request: only (50, 90) is missing.
	v2, err := r.ReadFixed(rng(40, 90))
	require.NoError(t, err)
	defer v2.Close()
	pump(t, r, h, at(200))

	scans := s.ScanRanges()
	require.Len(t, scans, 2)
	assert.Equal(t, rng(50, 90), scans[1], "already-covered portion must not be re-read")

	assert.Equal(t, []int{40, 50, 60, 70, 80}, msgValues(v2.Items()))
}

func TestDuplicateConcurrentRangeIssuesOneRequest(t *testing.T) {
	_, h := newMemStore(t, 10, 20)
	r, err := NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()

	v1, err := r.ReadFixed(rng(0, 100))
	require.NoError(t, err)
	defer v1.Close()
	v2, err := r.ReadFixed(rng(0, 100))
	require.NoError(t, err)
	defer v2.Close()

	assert.Equal(t, 1, r.PendingCount(), "second identical request coalesces to nothing")

	pump(t, r, h, at(200))
	assert.Equal(t, []int{10, 20}, msgValues(v2.Items()))
}

func TestReadIndexSeparateFromData(t *testing.T) {
	_, h := newMemStore(t, 10, 20, 30)
	r, err := NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()

	iv, err := r.ReadIndex(rng(0, 100))
	require.NoError(t, err)
	defer iv.Close()

	pump(t, r, h, at(200))

	entries := iv.Items()
	require.Len(t, entries, 3)
	assert.Equal(t, at(10), entries[0].OriginatingTime)
	assert.Zero(t, r.CacheLen(), "index-only request must not materialize payloads")

	// A data request for the same range is not covered by the index read.
	dv, err := r.ReadFixed(rng(0, 100))
	require.NoError(t, err)
	defer dv.Close()
	assert.Equal(t, 1, r.PendingCount())
}

func TestTailCountLiveScenario(t *testing.T) {
	s, h := newMemStore(t)
	r, err := NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()

	v, err := r.ReadTailCount(5)
	require.NoError(t, err)
	defer v.Close()

	for ms := int64(0); ms <= 200; ms += 10 {
		appendRec(s, ms)
		pump(t, r, h, at(ms+1))

		items := msgValues(v.Items())
		count := int(ms/10) + 1
		if count > 5 {
			count = 5
		}
		require.Len(t, items, count, "after append at %d", ms)
		for i := 1; i < len(items); i++ {
			assert.Greater(t, items[i], items[i-1], "tail stays in time order")
		}
		if count == 5 {
			assert.Equal(t, int(ms), items[4], "latest message always present")
		}
	}

	assert.Equal(t, 1, r.PendingCount(), "tail request stays pending")
}

func TestTailRangeScenario(t *testing.T) {
	s, h := newMemStore(t)
	r, err := NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()

	v, err := r.ReadTailRange(func(last time.Time) types.TimeRange {
		return types.NewTimeRange(last.Add(-25*time.Millisecond), last)
	})
	require.NoError(t, err)
	defer v.Close()

	for ms := int64(0); ms <= 100; ms += 10 {
		appendRec(s, ms)
		pump(t, r, h, at(ms+1))
	}

	assert.Equal(t, []int{80, 90, 100}, msgValues(v.Items()), "sliding 25ms window over latest data")
}

func TestCancelDropsIncomingData(t *testing.T) {
	_, h := newMemStore(t, 10, 20)
	r, err := NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()

	v, err := r.ReadFixed(rng(0, 100))
	require.NoError(t, err)
	defer v.Close()

	reqs := r.CollectRequests(at(200))
	require.Len(t, reqs, 1)
	fresh, err := h.OpenNew()
	require.NoError(t, err)
	require.NoError(t, r.OpenStream(fresh, false))

	r.Cancel()
	require.NoError(t, fresh.ReadAll(context.Background(), reqs[0].Range))
	fresh.Close()

	r.DispatchData()
	assert.Zero(t, r.CacheLen(), "canceled reader buffers nothing")
	assert.True(t, r.Canceled())
}

func TestCancelDropsIncomingIndexEntries(t *testing.T) {
	_, h := newMemStore(t, 10, 20)
	r, err := NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()

	v, err := r.ReadIndex(rng(0, 100))
	require.NoError(t, err)
	defer v.Close()

	reqs := r.CollectRequests(at(200))
	require.Len(t, reqs, 1)
	fresh, err := h.OpenNew()
	require.NoError(t, err)
	require.NoError(t, r.OpenStream(fresh, true))

	r.Cancel()
	require.NoError(t, fresh.ReadAll(context.Background(), reqs[0].Range))
	fresh.Close()

	r.DispatchData()
	assert.Zero(t, r.IndexLen(), "canceled reader buffers no index entries")
}

func TestReissueRequestRetriesFaultedRange(t *testing.T) {
	_, h := newMemStore(t, 10, 20, 30)
	r, err := NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()

	v, err := r.ReadFixed(rng(0, 100))
	require.NoError(t, err)
	defer v.Close()

	reqs := r.CollectRequests(at(200))
	require.Len(t, reqs, 1)
	r.CompleteReadRequest(reqs[0])
	require.Zero(t, r.PendingCount())

	// The view's extent claims the range, so the returned request is the
	// only thing keeping the retry alive; an overlapping read must
	// coalesce against it instead of issuing a duplicate.
	r.ReissueRequest(reqs[0])
	assert.Equal(t, 1, r.PendingCount())
	v2, err := r.ReadFixed(rng(0, 100))
	require.NoError(t, err)
	defer v2.Close()
	assert.Equal(t, 1, r.PendingCount(), "overlapping read rides the retry")

	pump(t, r, h, at(200))
	assert.Equal(t, []int{10, 20, 30}, msgValues(v.Items()))
	assert.Zero(t, r.PendingCount())

	// Tailing requests stay pending on their own; reissue ignores them.
	r.ReissueRequest(types.ReadRequest{TailCount: 3})
	assert.Zero(t, r.PendingCount())
}

func TestCompleteReadRequestRemovesOnlyFixed(t *testing.T) {
	r, err := NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadFixed(rng(0, 100))
	require.NoError(t, err)
	_, err = r.ReadTailCount(3)
	require.NoError(t, err)
	require.Equal(t, 2, r.PendingCount())

	r.CompleteReadRequest(types.FixedRequest(rng(0, 100), false))
	assert.Equal(t, 1, r.PendingCount())

	// Tailing requests are never completed
	for _, req := range r.CollectRequests(at(500)) {
		r.CompleteReadRequest(req)
	}
	assert.Equal(t, 1, r.PendingCount())
}

func TestInvalidArguments(t *testing.T) {
	r, err := NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadFixed(rng(100, 50))
	assert.True(t, errors.IsInvalid(err))

	_, err = r.ReadIndex(rng(10, 10))
	assert.True(t, errors.IsInvalid(err))

	_, err = r.ReadTailCount(0)
	assert.True(t, errors.IsInvalid(err))

	_, err = r.ReadTailRange(nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestPooledPayloadBalanceAfterDisposeCycle(t *testing.T) {
	s := store.NewMemoryStore("rec", "/mem/rec")
	for ms := int64(0); ms < 50; ms += 10 {
		appendRec(s, ms)
	}
	h, err := s.Open("rec", "/mem/rec")
	require.NoError(t, err)
	defer h.Close()

	bufPool, err := pool.New(func() []byte { return make([]byte, 0, 32) })
	require.NoError(t, err)

	// Pool-backed decode: every decoded payload holds one pool handle.
	decode := func(rec store.Record) (*pool.Shared[[]byte], error) {
		handle, err := bufPool.Acquire()
		if err != nil {
			return nil, err
		}
		return handle, nil
	}

	r, err := NewReader[*pool.Shared[[]byte]](binding(), decode,
		WithRelease[*pool.Shared[[]byte]](func(h *pool.Shared[[]byte]) { _ = h.Release() }),
	)
	require.NoError(t, err)

	v, err := r.ReadFixed(rng(0, 100))
	require.NoError(t, err)

	for _, req := range r.CollectRequests(at(200)) {
		fresh, err := h.OpenNew()
		require.NoError(t, err)
		require.NoError(t, r.OpenStream(fresh, req.IndicesOnly))
		r.CompleteReadRequest(req)
		require.NoError(t, fresh.ReadAll(context.Background(), req.Range))
		fresh.Close()
	}
	r.DispatchData()
	require.Equal(t, 5, r.CacheLen())
	assert.Equal(t, int64(5), bufPool.Stats().Outstanding())

	v.Close()
	require.NoError(t, r.Close())
	assert.Equal(t, int64(0), bufPool.Stats().Outstanding(),
		"every acquire must be balanced by exactly one release after dispose")
}

func TestCloseReleasesUndispatchedBuffer(t *testing.T) {
	s := store.NewMemoryStore("rec", "/mem/rec")
	appendRec(s, 10)
	h, err := s.Open("rec", "/mem/rec")
	require.NoError(t, err)
	defer h.Close()

	bufPool, err := pool.New(func() []byte { return make([]byte, 0, 32) })
	require.NoError(t, err)

	decode := func(store.Record) (*pool.Shared[[]byte], error) { return bufPool.Acquire() }
	r, err := NewReader[*pool.Shared[[]byte]](binding(), decode,
		WithRelease[*pool.Shared[[]byte]](func(h *pool.Shared[[]byte]) { _ = h.Release() }),
	)
	require.NoError(t, err)

	_, err = r.ReadFixed(rng(0, 100))
	require.NoError(t, err)

	for _, req := range r.CollectRequests(at(200)) {
		fresh, err := h.OpenNew()
		require.NoError(t, err)
		require.NoError(t, r.OpenStream(fresh, req.IndicesOnly))
		require.NoError(t, fresh.ReadAll(context.Background(), req.Range))
		fresh.Close()
	}

	// Close without dispatching: the buffered message must still be released.
	require.NoError(t, r.Close())
	assert.Equal(t, int64(0), bufPool.Stats().Outstanding())
}
