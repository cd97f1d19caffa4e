// Package coalesce computes the minimal set of new read requests needed to
// cover a requested time range, given the requests already in flight and
// the extents already resident in cached views. Callers hold their stream's
// request lock across the whole computation plus registration, so two
// concurrent callers can never issue duplicate overlapping requests.
package coalesce

import (
	"github.com/c360/streamview/types"
)

// Compute subtracts, from the requested range, first the pending requests
// whose IndicesOnly flag matches, then the cached view extents, and returns
// one fixed-range ReadRequest per uncovered remainder. A zero-length
// request yields nothing. The subtraction is a single left-to-right sweep
// per covering list; adversarial (unsorted, overlapping) inputs terminate
// in one pass.
func Compute(requested types.TimeRange, pending []types.ReadRequest, extents []types.TimeRange, indicesOnly bool) []types.ReadRequest {
	if !requested.IsValid() {
		return nil
	}

	covered := make([]types.TimeRange, 0, len(pending))
	for _, r := range pending {
		if r.IndicesOnly == indicesOnly && r.Range.IsValid() {
			covered = append(covered, r.Range)
		}
	}

	remainders := subtract(requested, covered)

	var out []types.ReadRequest
	for _, gap := range remainders {
		for _, final := range subtract(gap, extents) {
			out = append(out, types.FixedRequest(final, indicesOnly))
		}
	}
	return out
}

// subtract removes every range in covered from working and returns the
// uncovered remainders in order. Each element of covered is visited once;
// a range strictly inside the working window splits it, the left part is
// resolved against the remaining covered ranges, and the sweep continues
// with the right part.
func subtract(working types.TimeRange, covered []types.TimeRange) []types.TimeRange {
	start, end := working.Start, working.End

	var out []types.TimeRange
	for i, r := range covered {
		if !end.After(start) {
			return out
		}
		if !r.IsValid() {
			continue
		}

		switch {
		case !r.Start.After(start) && !r.End.Before(end):
			// r fully contains [start, end): nothing left to fetch.
			return out

		case !r.Start.After(start) && r.End.After(start):
			// r overlaps only the start: advance.
			start = r.End

		case r.Start.Before(end) && !r.End.Before(end):
			// r overlaps only the end: retract.
			end = r.Start

		case r.Start.After(start) && r.End.Before(end):
			// r strictly inside: solve the left remainder against the
			// rest of the list, continue with the right remainder.
			left := subtract(types.NewTimeRange(start, r.Start), covered[i+1:])
			out = append(out, left...)
			start = r.End

		default:
			// Disjoint: no effect on the working window.
		}
	}

	if end.After(start) {
		out = append(out, types.NewTimeRange(start, end))
	}
	return out
}
