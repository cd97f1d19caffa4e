package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/types"
)

// BoltStore is a bbolt-backed persistent store: one bucket per stream,
// keys ordered by originating time so a bucket cursor is a sequential
// scan. The location token is the record's originating time in unix
// nanoseconds; ReadAt seeks it directly.
type BoltStore struct {
	name string
	path string

	mu     sync.Mutex
	db     *bolt.DB
	closed bool
}

// keyLen is 8 bytes of big-endian unix nanos plus 4 bytes of sequence
// number, so records sharing an originating time stay distinct and
// time-ordered.
const keyLen = 12

// OpenBolt opens (creating if needed) a bbolt store file.
func OpenBolt(name, path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.WrapTransient(err, "BoltStore", "OpenBolt", "database open")
	}
	return &BoltStore{name: name, path: path, db: db}, nil
}

// Open returns a fresh handle over the store. Provider conformance.
func (s *BoltStore) Open(_, _ string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.WrapTransient(errors.ErrStoreClosed, "BoltStore", "Open", "handle open")
	}
	return s.newHandle(), nil
}

func (s *BoltStore) newHandle() *boltHandle {
	return &boltHandle{
		store:     s,
		receivers: make(map[string][]Receiver),
		indexRecv: make(map[string][]IndexReceiver),
	}
}

// Append writes one record to a stream bucket. Used by the writer side
// (store builders, demo binary); readers never mutate.
func (s *BoltStore) Append(stream string, rec Record) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.WrapTransient(errors.ErrStoreClosed, "BoltStore", "Append", "record write")
	}
	db := s.db
	s.mu.Unlock()

	err := db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(stream))
		if err != nil {
			return err
		}
		return bucket.Put(encodeKey(rec.OriginatingTime, rec.SequenceID), encodeValue(rec))
	})
	return errors.WrapTransient(err, "BoltStore", "Append", "record write")
}

// Close closes the underlying database. Outstanding handles become
// unusable.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// boltHandle is one registration scope over a BoltStore.
type boltHandle struct {
	store *BoltStore

	mu        sync.Mutex
	receivers map[string][]Receiver
	indexRecv map[string][]IndexReceiver
	closed    bool
}

func (h *boltHandle) Name() string { return h.store.name }
func (h *boltHandle) Path() string { return h.store.path }

func (h *boltHandle) OpenNew() (Handle, error) {
	return h.store.Open(h.store.name, h.store.path)
}

func (h *boltHandle) RegisterReceiver(stream string, recv Receiver) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.WrapTransient(errors.ErrStoreClosed, "BoltStore", "RegisterReceiver", "receiver registration")
	}
	h.receivers[stream] = append(h.receivers[stream], recv)
	return nil
}

func (h *boltHandle) RegisterIndexReceiver(stream string, recv IndexReceiver) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.WrapTransient(errors.ErrStoreClosed, "BoltStore", "RegisterIndexReceiver", "receiver registration")
	}
	h.indexRecv[stream] = append(h.indexRecv[stream], recv)
	return nil
}

// ReadAll cursor-scans each registered stream bucket over rng inside one
// read transaction.
func (h *boltHandle) ReadAll(ctx context.Context, rng types.TimeRange) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.WrapTransient(errors.ErrStoreClosed, "BoltStore", "ReadAll", "scan")
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

	streams := make(map[string]struct{}, len(receivers)+len(indexRecv))
	for stream := range receivers {
		streams[stream] = struct{}{}
	}
	for stream := range indexRecv {
		streams[stream] = struct{}{}
	}

	err := h.store.db.View(func(tx *bolt.Tx) error {
		for stream := range streams {
			bucket := tx.Bucket([]byte(stream))
			if bucket == nil {
				continue
			}
			recvs := receivers[stream]
			idxRecvs := indexRecv[stream]

			cursor := bucket.Cursor()
			seek := encodeKey(rng.Start, 0)
			for k, v := cursor.Seek(seek); k != nil; k, v = cursor.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				rec, err := decodeRecord(stream, k, v)
				if err != nil {
					return err
				}
				if !rec.OriginatingTime.Before(rng.End) {
					break
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
	})
	return errors.WrapTransient(err, "BoltStore", "ReadAll", "scan")
}

// ReadAt seeks the first record of the stream at the entry's location
// token (originating unix nanos).
func (h *boltHandle) ReadAt(stream string, entry types.IndexEntry) (Record, error) {
	var out Record
	err := h.store.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(stream))
		if bucket == nil {
			return errors.ErrStreamNotFound
		}

		var prefix [8]byte
		binary.BigEndian.PutUint64(prefix[:], uint64(entry.Location))

		cursor := bucket.Cursor()
		k, v := cursor.Seek(prefix[:])
		if k == nil || !bytes.HasPrefix(k, prefix[:]) {
			return errors.ErrEntryNotFound
		}

		rec, err := decodeRecord(stream, k, v)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, errors.WrapTransient(err, "BoltStore", "ReadAt", "record lookup")
	}
	return out, nil
}

func (h *boltHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.receivers = map[string][]Receiver{}
	h.indexRecv = map[string][]IndexReceiver{}
	return nil
}

func encodeKey(t time.Time, seq int) []byte {
	key := make([]byte, keyLen)
	binary.BigEndian.PutUint64(key[:8], uint64(t.UnixNano()))
	binary.BigEndian.PutUint32(key[8:], uint32(seq))
	return key
}

// encodeValue lays out creation nanos, source id, then the payload bytes.
func encodeValue(rec Record) []byte {
	value := make([]byte, 12+len(rec.Payload))
	binary.BigEndian.PutUint64(value[:8], uint64(rec.CreationTime.UnixNano()))
	binary.BigEndian.PutUint32(value[8:12], uint32(rec.SourceID))
	copy(value[12:], rec.Payload)
	return value
}

func decodeRecord(stream string, key, value []byte) (Record, error) {
	if len(key) != keyLen || len(value) < 12 {
		return Record{}, errors.ErrCorruptRecord
	}

	originating := int64(binary.BigEndian.Uint64(key[:8]))
	seq := int(binary.BigEndian.Uint32(key[8:]))
	creation := int64(binary.BigEndian.Uint64(value[:8]))
	sourceID := int(binary.BigEndian.Uint32(value[8:12]))

	payload := make([]byte, len(value)-12)
	copy(payload, value[12:])

	return Record{
		Stream:          stream,
		OriginatingTime: time.Unix(0, originating).UTC(),
		CreationTime:    time.Unix(0, creation).UTC(),
		SourceID:        sourceID,
		SequenceID:      seq,
		Payload:         payload,
		Location:        originating,
	}, nil
}
