package summarize

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/store"
	"github.com/c360/streamview/stream"
	"github.com/c360/streamview/types"
)

func binding() types.StreamBinding {
	return types.StreamBinding{StoreName: "rec", StorePath: "/mem/rec", StreamName: "x"}
}

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

// pump runs one batch-and-dispatch cycle against the raw reader followed
// by the summary dispatch phase, mirroring the data manager's pump.
func pump(t *testing.T, r *stream.Reader[int], m *Manager[int], h store.Handle, now time.Time) {
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
	m.DispatchData()
}

func newManager(t *testing.T, times ...int64) (*Manager[int], *stream.Reader[int], store.Handle) {
	t.Helper()
	_, h := newMemStore(t, times...)
	r, err := stream.NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	m, err := NewManager[int](r, RangeSummarizer[int]{})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, r, h
}

func origins(buckets []IntervalData[int]) []time.Time {
	out := make([]time.Time, len(buckets))
	for i, d := range buckets {
		out[i] = d.OriginatingTime
	}
	return out
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager[int](nil, RangeSummarizer[int]{})
	assert.True(t, errors.IsInvalid(err))

	r, err := stream.NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()
	_, err = NewManager[int](r, nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestReadSummaryEndToEnd(t *testing.T) {
	m, r, h := newManager(t, 0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100)

	v, err := m.ReadSummary(rng(0, 101), testInterval)
	require.NoError(t, err)
	defer v.Close()

	assert.Empty(t, v.Items(), "no buckets before the pump runs")
	assert.Equal(t, 1, m.TaskCount())

	pump(t, r, m, h, at(200))

	items := v.Items()
	require.Len(t, items, 6)
	assert.Equal(t,
		[]time.Time{at(0), at(20), at(40), at(60), at(80), at(100)},
		origins(items))

	assert.Equal(t, 0, items[0].Minimum)
	assert.Equal(t, 10, items[0].Maximum)
	assert.Equal(t, 10, items[0].Value)
	assert.Equal(t, at(10), items[0].EndTime())

	assert.Zero(t, m.TaskCount())
	assert.Zero(t, r.PendingCount())
}

func TestReadSummaryWaitsForRawData(t *testing.T) {
	m, r, h := newManager(t, 0, 10, 20)

	v, err := m.ReadSummary(rng(0, 30), testInterval)
	require.NoError(t, err)
	defer v.Close()

	// Raw read still pending: the task must hold, not summarize a
	// partial range.
	m.DispatchData()
	assert.Empty(t, v.Items())
	assert.Equal(t, 1, m.TaskCount())

	pump(t, r, m, h, at(200))
	assert.Len(t, v.Items(), 2)
	assert.Zero(t, m.TaskCount())
}

func TestReadSummaryReusesCoverage(t *testing.T) {
	m, _, _ := newManager(t, 0, 10, 20, 30, 40)

	v1, err := m.ReadSummary(rng(0, 50), testInterval)
	require.NoError(t, err)
	defer v1.Close()
	assert.Equal(t, 1, m.TaskCount())

	v2, err := m.ReadSummary(rng(10, 40), testInterval)
	require.NoError(t, err)
	defer v2.Close()
	assert.Equal(t, 1, m.TaskCount(), "covered range adds no task")

	v3, err := m.ReadSummary(rng(40, 90), testInterval)
	require.NoError(t, err)
	defer v3.Close()
	assert.Equal(t, 2, m.TaskCount(), "only the gap is requested")
}

func TestReadSummaryDistinctIntervals(t *testing.T) {
	m, r, h := newManager(t, 0, 10, 20, 30, 40, 50)

	fine, err := m.ReadSummary(rng(0, 60), 10*time.Millisecond)
	require.NoError(t, err)
	defer fine.Close()
	coarse, err := m.ReadSummary(rng(0, 60), 40*time.Millisecond)
	require.NoError(t, err)
	defer coarse.Close()
	assert.Equal(t, 2, m.SummaryCount())

	pump(t, r, m, h, at(200))

	assert.Len(t, fine.Items(), 6)
	require.Len(t, coarse.Items(), 2)
	assert.Equal(t, 30, coarse.Items()[0].Maximum)
	assert.Equal(t, 50, coarse.Items()[1].Maximum)
}

func TestReadSummaryValidation(t *testing.T) {
	m, _, _ := newManager(t)

	_, err := m.ReadSummary(rng(50, 50), testInterval)
	assert.True(t, errors.IsInvalid(err))

	_, err = m.ReadSummary(rng(0, 50), 0)
	assert.True(t, errors.IsInvalid(err))

	_, err = m.ReadSummaryTailCount(0, testInterval)
	assert.True(t, errors.IsInvalid(err))

	_, err = m.ReadSummaryTailRange(nil, testInterval)
	assert.True(t, errors.IsInvalid(err))
}

func TestSummaryTailCountLive(t *testing.T) {
	ms, h := newMemStore(t, 40, 50, 60, 70, 80, 90, 100)
	r, err := stream.NewReader[int](binding(), intDecode)
	require.NoError(t, err)
	defer r.Close()
	m, err := NewManager[int](r, RangeSummarizer[int]{})
	require.NoError(t, err)
	defer m.Close()

	v, err := m.ReadSummaryTailCount(2, testInterval)
	require.NoError(t, err)
	defer v.Close()

	pump(t, r, m, h, at(105))
	require.Equal(t, []time.Time{at(80), at(100)}, origins(v.Items()))

	appendRec(ms, 110)
	appendRec(ms, 120)
	pump(t, r, m, h, at(125))

	items := v.Items()
	require.Equal(t, []time.Time{at(100), at(120)}, origins(items))
	assert.Equal(t, 100, items[0].Minimum, "re-dispatch merges, never double counts")
	assert.Equal(t, 110, items[0].Maximum)
	assert.Equal(t, 110, items[0].Value)
}

func TestFindPreviousAndNextDataPoint(t *testing.T) {
	m, r, h := newManager(t, 0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100)

	v, err := m.ReadSummary(rng(0, 101), testInterval)
	require.NoError(t, err)
	defer v.Close()
	pump(t, r, m, h, at(200))

	// 55 falls between bucket [40,50] and bucket [60,70].
	assert.Equal(t, at(40), m.FindPreviousDataPoint(at(55), testInterval))
	assert.Equal(t, at(60), m.FindNextDataPoint(at(55), testInterval))

	// Inside a bucket: the bucket itself bounds both directions.
	assert.Equal(t, at(40), m.FindPreviousDataPoint(at(45), testInterval))
	assert.Equal(t, at(50), m.FindNextDataPoint(at(45), testInterval))

	// No summary at the probed granularity: best effort, unadjusted.
	probe := at(55)
	assert.Equal(t, probe, m.FindPreviousDataPoint(probe, 7*time.Millisecond))
	assert.Equal(t, probe, m.FindNextDataPoint(probe, 0))
}

func TestManagerClosedRejectsReads(t *testing.T) {
	m, _, _ := newManager(t, 0, 10)
	require.NoError(t, m.Close())

	_, err := m.ReadSummary(rng(0, 20), testInterval)
	assert.True(t, errors.Is(err, errors.ErrClosed))
	_, err = m.ReadSummaryTailCount(1, testInterval)
	assert.True(t, errors.Is(err, errors.ErrClosed))
}
