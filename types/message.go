package types

import "time"

// Message is one time-stamped payload read from a stream. Messages are
// immutable once constructed; within a cache they are keyed and ordered by
// OriginatingTime, with last-writer-wins semantics on key collision.
type Message[T any] struct {
	// Data is the payload. For pool-backed payload types the message holds
	// one reference that must be released exactly once.
	Data T

	// OriginatingTime is the capture time at the original source and the
	// cache/ordering key.
	OriginatingTime time.Time

	// CreationTime is the time the message entered the runtime.
	CreationTime time.Time

	// SourceID identifies the emitting source within the store.
	SourceID int

	// SequenceID is the per-source sequence number.
	SequenceID int
}

// NewMessage constructs a message.
func NewMessage[T any](data T, originatingTime, creationTime time.Time, sourceID, sequenceID int) Message[T] {
	return Message[T]{
		Data:            data,
		OriginatingTime: originatingTime,
		CreationTime:    creationTime,
		SourceID:        sourceID,
		SequenceID:      sequenceID,
	}
}

// IndexEntry locates one message in a store without materializing its
// payload. Location is an opaque physical-position token the producing
// store knows how to resolve in ReadAt.
type IndexEntry struct {
	OriginatingTime time.Time
	Location        int64
}
