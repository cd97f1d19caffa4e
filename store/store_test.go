package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/types"
)

var epoch = time.Unix(0, 0).UTC()

func at(ms int64) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

func rec(ms int64, payload string) Record {
	return Record{
		OriginatingTime: at(ms),
		CreationTime:    at(ms + 1),
		SourceID:        1,
		SequenceID:      int(ms),
		Payload:         []byte(payload),
	}
}

func collect(t *testing.T, h Handle, stream string, rng types.TimeRange) []Record {
	t.Helper()
	var got []Record
	require.NoError(t, h.RegisterReceiver(stream, func(r Record) error {
		got = append(got, r)
		return nil
	}))
	require.NoError(t, h.ReadAll(context.Background(), rng))
	return got
}

func TestMemoryStoreScanInRange(t *testing.T) {
	s := NewMemoryStore("rec", "/mem/rec")
	for ms := int64(0); ms <= 100; ms += 10 {
		s.Append("x", rec(ms, "p"))
	}

	h, err := s.Open("rec", "/mem/rec")
	require.NoError(t, err)
	defer h.Close()

	got := collect(t, h, "x", types.NewTimeRange(at(20), at(60)))
	require.Len(t, got, 4) // 20, 30, 40, 50 (end exclusive)
	assert.Equal(t, at(20), got[0].OriginatingTime)
	assert.Equal(t, at(50), got[3].OriginatingTime)

	// The physical scan range is recorded for test assertions
	require.Len(t, s.ScanRanges(), 1)
	assert.Equal(t, types.NewTimeRange(at(20), at(60)), s.ScanRanges()[0])
}

func TestMemoryStoreAppendsVisibleToLaterScans(t *testing.T) {
	s := NewMemoryStore("rec", "/mem/rec")
	h, err := s.Open("rec", "/mem/rec")
	require.NoError(t, err)
	defer h.Close()

	var got []Record
	require.NoError(t, h.RegisterReceiver("x", func(r Record) error {
		got = append(got, r)
		return nil
	}))

	s.Append("x", rec(10, "a"))
	require.NoError(t, h.ReadAll(context.Background(), types.NewTimeRange(at(0), at(100))))
	assert.Len(t, got, 1)

	s.Append("x", rec(20, "b"))
	require.NoError(t, h.ReadAll(context.Background(), types.NewTimeRange(at(0), at(100))))
	assert.Len(t, got, 3, "second scan re-delivers both records")
}

func TestMemoryStoreMultipleReceiversPerStream(t *testing.T) {
	s := NewMemoryStore("rec", "/mem/rec")
	s.Append("x", rec(10, "a"))
	s.Append("x", rec(20, "b"))

	h, err := s.Open("rec", "/mem/rec")
	require.NoError(t, err)
	defer h.Close()

	var first, second []Record
	require.NoError(t, h.RegisterReceiver("x", func(r Record) error {
		first = append(first, r)
		return nil
	}))
	require.NoError(t, h.RegisterReceiver("x", func(r Record) error {
		second = append(second, r)
		return nil
	}))

	require.NoError(t, h.ReadAll(context.Background(), types.NewTimeRange(at(0), at(100))))
	assert.Len(t, first, 2, "registrations accumulate, the second does not displace the first")
	assert.Len(t, second, 2)
}

func TestBoltStoreMultipleReceiversPerStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.db")
	s, err := OpenBolt("rec", path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append("x", rec(10, "a")))

	h, err := s.Open("rec", path)
	require.NoError(t, err)
	defer h.Close()

	var first, second []Record
	require.NoError(t, h.RegisterReceiver("x", func(r Record) error {
		first = append(first, r)
		return nil
	}))
	require.NoError(t, h.RegisterReceiver("x", func(r Record) error {
		second = append(second, r)
		return nil
	}))

	require.NoError(t, h.ReadAll(context.Background(), types.NewTimeRange(at(0), at(100))))
	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
}

func TestMemoryStoreIndexReceiverAndReadAt(t *testing.T) {
	s := NewMemoryStore("rec", "/mem/rec")
	s.Append("x", rec(10, "a"))
	s.Append("x", rec(20, "b"))

	h, err := s.Open("rec", "/mem/rec")
	require.NoError(t, err)
	defer h.Close()

	var entries []types.IndexEntry
	require.NoError(t, h.RegisterIndexReceiver("x", func(e types.IndexEntry) error {
		entries = append(entries, e)
		return nil
	}))
	require.NoError(t, h.ReadAll(context.Background(), types.NewTimeRange(at(0), at(100))))
	require.Len(t, entries, 2)

	got, err := h.ReadAt("x", entries[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got.Payload)

	_, err = h.ReadAt("x", types.IndexEntry{Location: 99})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrEntryNotFound))
}

func TestMemoryStoreScanCancellation(t *testing.T) {
	s := NewMemoryStore("rec", "/mem/rec")
	s.Append("x", rec(10, "a"))

	h, err := s.Open("rec", "/mem/rec")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.RegisterReceiver("x", func(Record) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = h.ReadAll(ctx, types.NewTimeRange(at(0), at(100)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStoreOutOfOrderAppendsStaySorted(t *testing.T) {
	s := NewMemoryStore("rec", "/mem/rec")
	s.Append("x", rec(30, "c"))
	s.Append("x", rec(10, "a"))
	s.Append("x", rec(20, "b"))

	h, err := s.Open("rec", "/mem/rec")
	require.NoError(t, err)
	defer h.Close()

	got := collect(t, h, "x", types.NewTimeRange(at(0), at(100)))
	require.Len(t, got, 3)
	assert.Equal(t, []byte("a"), got[0].Payload)
	assert.Equal(t, []byte("c"), got[2].Payload)
}

func TestBoltStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.db")
	s, err := OpenBolt("rec", path)
	require.NoError(t, err)
	defer s.Close()

	for ms := int64(0); ms < 50; ms += 10 {
		require.NoError(t, s.Append("x", rec(ms, "payload")))
	}

	h, err := s.Open("rec", path)
	require.NoError(t, err)
	defer h.Close()

	got := collect(t, h, "x", types.NewTimeRange(at(10), at(40)))
	require.Len(t, got, 3)
	assert.Equal(t, at(10), got[0].OriginatingTime)
	assert.Equal(t, at(30), got[2].OriginatingTime)
	assert.Equal(t, []byte("payload"), got[0].Payload)
	assert.Equal(t, 1, got[0].SourceID)
}

func TestBoltStoreReadAtByLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.db")
	s, err := OpenBolt("rec", path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append("x", rec(10, "a")))
	require.NoError(t, s.Append("x", rec(20, "b")))

	h, err := s.Open("rec", path)
	require.NoError(t, err)
	defer h.Close()

	var entries []types.IndexEntry
	require.NoError(t, h.RegisterIndexReceiver("x", func(e types.IndexEntry) error {
		entries = append(entries, e)
		return nil
	}))
	require.NoError(t, h.ReadAll(context.Background(), types.NewTimeRange(at(0), at(100))))
	require.Len(t, entries, 2)

	got, err := h.ReadAt("x", entries[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got.Payload)

	_, err = h.ReadAt("y", entries[0])
	assert.Error(t, err)
}

func TestBoltStoreConcurrentHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.db")
	s, err := OpenBolt("rec", path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append("x", rec(10, "a")))

	h1, err := s.Open("rec", path)
	require.NoError(t, err)
	h2, err := h1.OpenNew()
	require.NoError(t, err)
	defer h1.Close()
	defer h2.Close()

	got1 := collect(t, h1, "x", types.NewTimeRange(at(0), at(100)))
	got2 := collect(t, h2, "x", types.NewTimeRange(at(0), at(100)))
	assert.Len(t, got1, 1)
	assert.Len(t, got2, 1)
}

func TestJSONCodecRoundTrip(t *testing.T) {
	type sample struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}

	codec := JSONCodec[sample]{}
	data, err := codec.Marshal(sample{Name: "temp", Value: 21.5})
	require.NoError(t, err)

	got, err := codec.Unmarshal(data, sample{})
	require.NoError(t, err)
	assert.Equal(t, sample{Name: "temp", Value: 21.5}, got)

	_, err = codec.Unmarshal([]byte("{broken"), sample{})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestRawCodecReusesBuffer(t *testing.T) {
	codec := RawCodec{}

	buf := make([]byte, 0, 16)
	out, err := codec.Unmarshal([]byte("abc"), buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)
	assert.Equal(t, 16, cap(out), "pooled buffer is reused when large enough")

	out2, err := codec.Unmarshal([]byte("abc"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out2)
}
