// Package summarize produces interval-summarized (bucketed
// representative/min/max) data from raw stream messages at a configurable
// granularity, with its own cache layer, merge-on-overlap logic for
// bucket boundaries, and capacity-bounded retention of computed views.
package summarize

import (
	"time"
)

// Ordered constrains payload types a range summarizer can take extremes
// over.
type Ordered interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 | ~string
}

// IntervalData is one statistic bucket: a representative value plus the
// extremes observed over [OriginatingTime, EndTime()). Equality is
// structural over all five fields.
type IntervalData[T any] struct {
	// Value is the representative (most recent) value in the span.
	Value T

	// Minimum and Maximum are the extremes observed in the span.
	Minimum T
	Maximum T

	// OriginatingTime is the start of the covered span.
	OriginatingTime time.Time

	// Interval is the length of the covered span.
	Interval time.Duration
}

// NewIntervalData builds a bucket from explicit fields.
func NewIntervalData[T any](value, minimum, maximum T, originatingTime time.Time, interval time.Duration) IntervalData[T] {
	return IntervalData[T]{
		Value:           value,
		Minimum:         minimum,
		Maximum:         maximum,
		OriginatingTime: originatingTime,
		Interval:        interval,
	}
}

// EndTime returns OriginatingTime + Interval.
func (d IntervalData[T]) EndTime() time.Time {
	return d.OriginatingTime.Add(d.Interval)
}

// Contains reports whether t falls inside [OriginatingTime, EndTime()).
// A zero-length bucket contains exactly its originating instant.
func (d IntervalData[T]) Contains(t time.Time) bool {
	if d.Interval == 0 {
		return t.Equal(d.OriginatingTime)
	}
	return !t.Before(d.OriginatingTime) && t.Before(d.EndTime())
}

// BucketStart aligns t down to an interval-sized boundary computed from
// absolute time, so bucket identity is stable and independent of request
// order.
func BucketStart(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return t
	}
	nanos := t.UnixNano()
	step := interval.Nanoseconds()
	rem := nanos % step
	if rem < 0 {
		rem += step
	}
	return time.Unix(0, nanos-rem).UTC()
}

// Combine merges two buckets covering adjacent or overlapping spans of
// the same logical bucket: the minimum of minimums, the maximum of
// maximums, the value of whichever input has the later originating time,
// the earlier originating time, and an interval extended to the later end
// time. Combine never loses extremes and never shrinks the covered span.
func Combine[T Ordered](a, b IntervalData[T]) IntervalData[T] {
	out := IntervalData[T]{}

	out.Minimum = a.Minimum
	if b.Minimum < out.Minimum {
		out.Minimum = b.Minimum
	}
	out.Maximum = a.Maximum
	if b.Maximum > out.Maximum {
		out.Maximum = b.Maximum
	}

	// Later originating time wins the representative; ties go to b.
	if b.OriginatingTime.Before(a.OriginatingTime) {
		out.Value = a.Value
	} else {
		out.Value = b.Value
	}

	start := a.OriginatingTime
	if b.OriginatingTime.Before(start) {
		start = b.OriginatingTime
	}
	end := a.EndTime()
	if b.EndTime().After(end) {
		end = b.EndTime()
	}
	out.OriginatingTime = start
	out.Interval = end.Sub(start)
	return out
}
