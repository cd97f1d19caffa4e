package store

import (
	"context"
	"sort"
	"sync"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/types"
)

// MemoryStore is an append-capable in-memory store. Appends are visible to
// subsequent scans on every handle, which makes it the backing for
// live-tail sources and tests. It records every scanned range so tests
// can assert which physical reads actually happened.
type MemoryStore struct {
	name string
	path string

	mu      sync.RWMutex
	streams map[string][]Record
	scans   []types.TimeRange
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(name, path string) *MemoryStore {
	return &MemoryStore{
		name:    name,
		path:    path,
		streams: make(map[string][]Record),
	}
}

// Append adds one record to a stream. Records may arrive out of order;
// they are kept sorted by originating time.
func (s *MemoryStore) Append(stream string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Stream = stream
	rec.Location = int64(len(s.streams[stream]))
	recs := append(s.streams[stream], rec)
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].OriginatingTime.Before(recs[j].OriginatingTime)
	})
	s.streams[stream] = recs
}

// Len returns the record count of a stream.
func (s *MemoryStore) Len(stream string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[stream])
}

// ScanRanges returns every range passed to ReadAll, in order.
func (s *MemoryStore) ScanRanges() []types.TimeRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.TimeRange, len(s.scans))
	copy(out, s.scans)
	return out
}

// Open returns a fresh handle. Name and path arguments are accepted for
// Provider conformance; the store's own identity wins.
func (s *MemoryStore) Open(_, _ string) (Handle, error) {
	return s.newHandle(), nil
}

func (s *MemoryStore) newHandle() *memoryHandle {
	return &memoryHandle{
		store:     s,
		receivers: make(map[string][]Receiver),
		indexRecv: make(map[string][]IndexReceiver),
	}
}

// memoryHandle is one registration scope over a MemoryStore.
type memoryHandle struct {
	store *MemoryStore

	mu        sync.Mutex
	receivers map[string][]Receiver
	indexRecv map[string][]IndexReceiver
	closed    bool
}

func (h *memoryHandle) Name() string { return h.store.name }
func (h *memoryHandle) Path() string { return h.store.path }

func (h *memoryHandle) OpenNew() (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.WrapTransient(errors.ErrStoreClosed, "MemoryStore", "OpenNew", "handle reopen")
	}
	return h.store.newHandle(), nil
}

func (h *memoryHandle) RegisterReceiver(stream string, recv Receiver) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.WrapTransient(errors.ErrStoreClosed, "MemoryStore", "RegisterReceiver", "receiver registration")
	}
	h.receivers[stream] = append(h.receivers[stream], recv)
	return nil
}

func (h *memoryHandle) RegisterIndexReceiver(stream string, recv IndexReceiver) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.WrapTransient(errors.ErrStoreClosed, "MemoryStore", "RegisterIndexReceiver", "receiver registration")
	}
	h.indexRecv[stream] = append(h.indexRecv[stream], recv)
	return nil
}

// ReadAll scans each registered stream over rng in time order. There is no
// cross-stream ordering guarantee.
func (h *memoryHandle) ReadAll(ctx context.Context, rng types.TimeRange) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.WrapTransient(errors.ErrStoreClosed, "MemoryStore", "ReadAll", "scan")
	}
	receivers := make(map[string][]Receiver, len(h.receivers))
	for k, v := range h.receivers {
		receivers[k] = append([]Receiver(nil), v...)
	}
	indexRecv := make(map[string][]IndexReceiver, len(h.indexRecv))
	for k, v := range h.indexRecv {
		indexRecv[k] = append([]IndexReceiver(nil), v...)
	}
	h.mu.Unlock()

	s := h.store
	s.mu.Lock()
	s.scans = append(s.scans, rng)
	snapshot := make(map[string][]Record)
	for stream := range receivers {
		snapshot[stream] = append([]Record(nil), s.streams[stream]...)
	}
	for stream := range indexRecv {
		if _, ok := snapshot[stream]; !ok {
			snapshot[stream] = append([]Record(nil), s.streams[stream]...)
		}
	}
	s.mu.Unlock()

	for stream, recs := range snapshot {
		recvs := receivers[stream]
		idxRecvs := indexRecv[stream]
		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !rng.Contains(rec.OriginatingTime) {
				continue
			}
			for _, recv := range recvs {
				if err := recv(rec); err != nil {
					return err
				}
			}
			if len(idxRecvs) > 0 {
				entry := types.IndexEntry{OriginatingTime: rec.OriginatingTime, Location: rec.Location}
				for _, idxRecv := range idxRecvs {
					if err := idxRecv(entry); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (h *memoryHandle) ReadAt(stream string, entry types.IndexEntry) (Record, error) {
	s := h.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.streams[stream]
	for _, rec := range recs {
		if rec.Location == entry.Location {
			return rec, nil
		}
	}
	return Record{}, errors.WrapTransient(errors.ErrEntryNotFound, "MemoryStore", "ReadAt", "record lookup")
}

func (h *memoryHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.receivers = map[string][]Receiver{}
	h.indexRecv = map[string][]IndexReceiver{}
	return nil
}
