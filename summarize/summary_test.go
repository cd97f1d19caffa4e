package summarize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/view"
)

const testInterval = 20 * time.Millisecond

func newSummary(t *testing.T, capacity int) *Summary[int] {
	t.Helper()
	s, err := NewSummary[int](testInterval, RangeSummarizer[int]{}, capacity, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// bkt builds a bucket spanning [originMs, originMs+lenMs).
func bkt(originMs, lenMs int64, min, max, val int) IntervalData[int] {
	return NewIntervalData(val, min, max, at(originMs), time.Duration(lenMs)*time.Millisecond)
}

func TestNewSummaryValidation(t *testing.T) {
	_, err := NewSummary[int](0, RangeSummarizer[int]{}, 0, nil)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewSummary[int](testInterval, nil, 0, nil)
	assert.True(t, errors.IsInvalid(err))
}

func TestInsertPendingBoundaryMerge(t *testing.T) {
	s := newSummary(t, 0)

	runA := []IntervalData[int]{
		bkt(0, 10, 0, 10, 10),
		bkt(20, 5, 20, 25, 25),
	}
	runB := []IntervalData[int]{
		bkt(28, 10, 28, 38, 38),
		bkt(40, 5, 40, 45, 45),
	}

	require.NoError(t, s.InsertPending(runA))
	require.NoError(t, s.InsertPending(runB))
	assert.Equal(t, 1, s.PendingCount(), "adjacent runs splice into one")

	s.DispatchData()
	assert.Equal(t, 3, s.Len())

	d, ok := s.Search(at(22), view.Exact)
	require.True(t, ok)
	assert.Equal(t, 20, d.Minimum)
	assert.Equal(t, 38, d.Maximum)
	assert.Equal(t, 38, d.Value, "later partial supplies the value")
	assert.Equal(t, at(20), d.OriginatingTime)
	assert.Equal(t, at(38), d.EndTime())
}

func TestInsertPendingMergeIsOrderIndependent(t *testing.T) {
	s := newSummary(t, 0)

	// Same runs as above, inserted in reverse order.
	require.NoError(t, s.InsertPending([]IntervalData[int]{
		bkt(28, 10, 28, 38, 38),
		bkt(40, 5, 40, 45, 45),
	}))
	require.NoError(t, s.InsertPending([]IntervalData[int]{
		bkt(0, 10, 0, 10, 10),
		bkt(20, 5, 20, 25, 25),
	}))
	assert.Equal(t, 1, s.PendingCount())

	s.DispatchData()
	d, ok := s.Search(at(22), view.Exact)
	require.True(t, ok)
	assert.Equal(t, 20, d.Minimum)
	assert.Equal(t, 38, d.Maximum)
	assert.Equal(t, 38, d.Value)
}

func TestInsertPendingRejectsUnsorted(t *testing.T) {
	s := newSummary(t, 0)

	err := s.InsertPending([]IntervalData[int]{
		bkt(40, 5, 40, 45, 45),
		bkt(0, 10, 0, 10, 10),
	})
	assert.True(t, errors.IsInvalid(err))
}

func TestInsertPendingRejectsOverlappingRuns(t *testing.T) {
	s := newSummary(t, 0)

	require.NoError(t, s.InsertPending([]IntervalData[int]{
		bkt(0, 10, 0, 10, 10),
		bkt(20, 5, 20, 25, 25),
		bkt(40, 5, 40, 45, 45),
	}))
	// A run landing strictly inside an existing run's key span.
	err := s.InsertPending([]IntervalData[int]{bkt(21, 2, 21, 23, 23)})
	assert.True(t, errors.IsInvalid(err))
}

func TestDispatchMergesResidentBuckets(t *testing.T) {
	s := newSummary(t, 0)

	require.NoError(t, s.InsertPending([]IntervalData[int]{bkt(2, 6, 2, 8, 8)}))
	s.DispatchData()

	require.NoError(t, s.InsertPending([]IntervalData[int]{bkt(12, 7, 1, 19, 19)}))
	s.DispatchData()

	assert.Equal(t, 1, s.Len(), "same bucket key merges, not duplicates")
	d, ok := s.Search(at(5), view.Exact)
	require.True(t, ok)
	assert.Equal(t, 1, d.Minimum)
	assert.Equal(t, 19, d.Maximum)
	assert.Equal(t, at(2), d.OriginatingTime)
	assert.Equal(t, at(19), d.EndTime())
}

func TestMissingRanges(t *testing.T) {
	s := newSummary(t, 0)

	gaps := s.MissingRanges(rng(50, 150))
	require.Len(t, gaps, 1)
	assert.Equal(t, rng(40, 150), gaps[0], "start aligns down to the bucket boundary")

	v := s.View(rng(0, 100))
	defer v.Close()

	gaps = s.MissingRanges(rng(50, 150))
	require.Len(t, gaps, 1)
	assert.Equal(t, rng(100, 150), gaps[0], "viewed coverage is not re-requested")

	assert.Empty(t, s.MissingRanges(rng(10, 90)))
}

func TestSearchModes(t *testing.T) {
	s := newSummary(t, 0)
	require.NoError(t, s.InsertPending([]IntervalData[int]{
		bkt(0, 10, 0, 10, 10),
		bkt(40, 5, 40, 45, 45),
		bkt(80, 0, 80, 80, 80),
	}))
	s.DispatchData()

	d, ok := s.Search(at(5), view.Exact)
	require.True(t, ok)
	assert.Equal(t, at(0), d.OriginatingTime)

	_, ok = s.Search(at(25), view.Exact)
	assert.False(t, ok, "no bucket covers the query")

	d, ok = s.Search(at(25), view.Previous)
	require.True(t, ok)
	assert.Equal(t, at(0), d.OriginatingTime)

	d, ok = s.Search(at(25), view.Next)
	require.True(t, ok)
	assert.Equal(t, at(40), d.OriginatingTime)

	d, ok = s.Search(at(80), view.Exact)
	require.True(t, ok)
	assert.Equal(t, at(80), d.OriginatingTime, "zero-length bucket matches its instant")

	_, ok = s.Search(at(-5), view.Previous)
	assert.False(t, ok)
	_, ok = s.Search(at(100), view.Next)
	assert.False(t, ok)
}

func TestPurgeDropsUnviewedRanges(t *testing.T) {
	s := newSummary(t, 4)

	require.NoError(t, s.InsertPending([]IntervalData[int]{
		bkt(0, 5, 0, 5, 5), bkt(20, 5, 20, 25, 25), bkt(40, 5, 40, 45, 45), bkt(60, 5, 60, 65, 65),
	}))
	s.DispatchData()
	assert.Equal(t, 4, s.Len())

	require.NoError(t, s.InsertPending([]IntervalData[int]{
		bkt(200, 5, 200, 205, 205), bkt(220, 5, 220, 225, 225), bkt(240, 5, 240, 245, 245), bkt(260, 5, 260, 265, 265),
	}))
	s.DispatchData()

	assert.Equal(t, 4, s.Len(), "older unviewed range purged")
	_, ok := s.Search(at(2), view.Exact)
	assert.False(t, ok)
	_, ok = s.Search(at(202), view.Exact)
	assert.True(t, ok)
}

func TestPurgeDropsOverlappingOlderPins(t *testing.T) {
	s := newSummary(t, 4)

	var first []IntervalData[int]
	for i := 0; i < 8; i++ {
		ms := int64(i * 20)
		first = append(first, bkt(ms, 5, int(ms), int(ms)+5, int(ms)+5))
	}
	require.NoError(t, s.InsertPending(first))
	s.DispatchData()

	// The next run shares bucket 140 with the first pin's range, so pass
	// one keeps both pins and sweeps nothing. Pass two keeps only the
	// newest run's pin and re-sweeps the rest.
	var second []IntervalData[int]
	for i := 7; i < 11; i++ {
		ms := int64(i * 20)
		second = append(second, bkt(ms, 5, int(ms), int(ms)+5, int(ms)+5))
	}
	require.NoError(t, s.InsertPending(second))
	s.DispatchData()

	assert.Equal(t, 4, s.Len(), "overlapping pins do not hold the cache over capacity")
	_, ok := s.Search(at(2), view.Exact)
	assert.False(t, ok, "oldest buckets swept")
	d, ok := s.Search(at(142), view.Exact)
	require.True(t, ok)
	assert.Equal(t, at(140), d.OriginatingTime)
	_, ok = s.Search(at(202), view.Exact)
	assert.True(t, ok)
}

func TestPurgeKeepsCallerViewedBuckets(t *testing.T) {
	s := newSummary(t, 4)

	v := s.View(rng(0, 80))
	defer v.Close()

	require.NoError(t, s.InsertPending([]IntervalData[int]{
		bkt(0, 5, 0, 5, 5), bkt(20, 5, 20, 25, 25), bkt(40, 5, 40, 45, 45), bkt(60, 5, 60, 65, 65),
	}))
	s.DispatchData()

	require.NoError(t, s.InsertPending([]IntervalData[int]{
		bkt(200, 5, 200, 205, 205), bkt(220, 5, 220, 225, 225), bkt(240, 5, 240, 245, 245), bkt(260, 5, 260, 265, 265),
	}))
	s.DispatchData()

	assert.Equal(t, 8, s.Len(), "live caller view pins its buckets past capacity")
	assert.Len(t, v.Items(), 4)
}
