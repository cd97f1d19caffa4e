// Package store defines the read contract the engine requires from an
// underlying message store, together with two implementations: an
// in-memory store (tests, live-tail sources) and a bbolt-backed
// persistent store.
//
// A store hands out handles. Multiple handles to the same store may
// coexist so that concurrent sequential scans do not share cursor state.
// Scans deliver raw records to receivers registered per stream; decoding
// to typed payloads happens engine-side through a Codec.
package store

import (
	"context"
	"time"

	"github.com/c360/streamview/types"
)

// Record is one raw record encountered during a scan or random-access read.
type Record struct {
	Stream          string
	OriginatingTime time.Time
	CreationTime    time.Time
	SourceID        int
	SequenceID      int
	Payload         []byte

	// Location is the physical-position token for random-access re-reads
	// via ReadAt. Opaque to everything but the producing store.
	Location int64
}

// Receiver is invoked once per record in the scanned range of its stream.
// A non-nil error aborts the scan.
type Receiver func(rec Record) error

// IndexReceiver is invoked once per record with only its index entry; the
// payload is not materialized.
type IndexReceiver func(entry types.IndexEntry) error

// Handle is one open cursor-state over a store.
type Handle interface {
	// Name returns the store's logical name, used as a cache key.
	Name() string

	// Path returns the store's location, used as a cache key.
	Path() string

	// OpenNew returns a fresh handle over the same store, suitable for a
	// concurrent sequential scan.
	OpenNew() (Handle, error)

	// RegisterReceiver wires recv to receive every record of the named
	// stream during subsequent ReadAll calls on this handle. Receivers
	// accumulate: every receiver registered for a stream sees every
	// record, so readers sharing one batched scan all get their data.
	RegisterReceiver(stream string, recv Receiver) error

	// RegisterIndexReceiver wires recv to receive index entries only.
	// Accumulates like RegisterReceiver.
	RegisterIndexReceiver(stream string, recv IndexReceiver) error

	// ReadAll performs one sequential scan over rng, firing every
	// registered receiver, respecting ctx cancellation.
	ReadAll(ctx context.Context, rng types.TimeRange) error

	// ReadAt reads exactly one record of the named stream by its
	// physical location token.
	ReadAt(stream string, entry types.IndexEntry) (Record, error)

	// Close releases the handle. Registered receivers are dropped.
	Close() error
}

// Provider opens handles to named, path-addressed stores.
type Provider interface {
	Open(name, path string) (Handle, error)
}
