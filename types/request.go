package types

import "time"

// TailRangeFunc computes the range a tailing view should cover given the
// originating time of the most recent known message.
type TailRangeFunc func(last time.Time) TimeRange

// ReadRequest is a pending, not-yet-serviced demand on one stream.
//
// TailCount == 0 and TailRange == nil signal a fixed-range request. A
// nonzero TailCount or non-nil TailRange signal a live/tailing request
// whose lower bound is recomputed relative to the most recent data.
type ReadRequest struct {
	Range       TimeRange
	TailCount   uint64
	TailRange   TailRangeFunc
	IndicesOnly bool
}

// IsTailing reports whether the request tracks live data.
func (r ReadRequest) IsTailing() bool {
	return r.TailCount > 0 || r.TailRange != nil
}

// FixedRequest builds a fixed-range read request.
func FixedRequest(rng TimeRange, indicesOnly bool) ReadRequest {
	return ReadRequest{Range: rng, IndicesOnly: indicesOnly}
}
