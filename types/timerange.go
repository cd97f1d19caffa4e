// Package types defines the value types shared across the streamview
// engine: time ranges, messages, index entries, read requests, and stream
// bindings. All types here are plain values with no locking; ownership of
// concurrency belongs to the components that hold them.
package types

import (
	"fmt"
	"time"
)

// TimeRange is a half-open interval [Start, End) over absolute time.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange constructs a range from two instants.
func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: start, End: end}
}

// IsValid reports whether the range has positive length.
func (r TimeRange) IsValid() bool {
	return r.End.After(r.Start)
}

// IsZero reports whether both endpoints are the zero time.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Contains reports whether t falls within [Start, End).
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// ContainsRange reports whether other lies entirely within r.
func (r TimeRange) ContainsRange(other TimeRange) bool {
	return !other.Start.Before(r.Start) && !other.End.After(r.End)
}

// Overlaps reports whether the two half-open ranges share any instant.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Intersect returns the overlap of the two ranges and whether it is
// non-empty.
func (r TimeRange) Intersect(other TimeRange) (TimeRange, bool) {
	start := r.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := r.End
	if other.End.Before(end) {
		end = other.End
	}
	out := TimeRange{Start: start, End: end}
	return out, out.IsValid()
}

// Union returns the smallest range covering both inputs.
func (r TimeRange) Union(other TimeRange) TimeRange {
	start := r.Start
	if other.Start.Before(start) {
		start = other.Start
	}
	end := r.End
	if other.End.After(end) {
		end = other.End
	}
	return TimeRange{Start: start, End: end}
}

// Pad widens the range by d on both sides.
func (r TimeRange) Pad(d time.Duration) TimeRange {
	return TimeRange{Start: r.Start.Add(-d), End: r.End.Add(d)}
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339Nano), r.End.Format(time.RFC3339Nano))
}
