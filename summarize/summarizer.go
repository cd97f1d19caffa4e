package summarize

import (
	"time"

	"github.com/c360/streamview/types"
)

// Summarizer reduces raw messages within interval-aligned buckets to
// IntervalData records and knows how to combine two records of the same
// bucket.
type Summarizer[T any] interface {
	// Name identifies the summarizer for binding keys.
	Name() string

	// Summarize reduces time-ordered messages into one IntervalData per
	// touched bucket, in bucket order.
	Summarize(msgs []types.Message[T], interval time.Duration) []IntervalData[T]

	// Combine merges two records of the same bucket.
	Combine(a, b IntervalData[T]) IntervalData[T]
}

// RangeSummarizer is the default summarizer for ordered payload types:
// per bucket it keeps the minimum, the maximum, and the latest value as
// representative. The record's originating time is the first message time
// in the bucket and its interval spans to the last, so that two partial
// summarizations of one bucket combine into exactly the record a single
// whole-bucket pass would produce.
type RangeSummarizer[T Ordered] struct{}

// Name identifies the summarizer.
func (RangeSummarizer[T]) Name() string { return "range" }

// Summarize reduces msgs (ordered by originating time) to per-bucket
// records.
func (RangeSummarizer[T]) Summarize(msgs []types.Message[T], interval time.Duration) []IntervalData[T] {
	var out []IntervalData[T]

	var current IntervalData[T]
	var currentBucket time.Time
	open := false

	flush := func() {
		if open {
			out = append(out, current)
			open = false
		}
	}

	for _, msg := range msgs {
		bucket := BucketStart(msg.OriginatingTime, interval)
		if open && bucket.Equal(currentBucket) {
			single := record(msg)
			current = Combine(current, single)
			continue
		}
		flush()
		current = record(msg)
		currentBucket = bucket
		open = true
	}
	flush()
	return out
}

// Combine merges two records of the same bucket.
func (RangeSummarizer[T]) Combine(a, b IntervalData[T]) IntervalData[T] {
	return Combine(a, b)
}

// record builds the single-message bucket seed.
func record[T Ordered](msg types.Message[T]) IntervalData[T] {
	return IntervalData[T]{
		Value:           msg.Data,
		Minimum:         msg.Data,
		Maximum:         msg.Data,
		OriginatingTime: msg.OriginatingTime,
		Interval:        0,
	}
}
