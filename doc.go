// Package streamview is a streaming data cache and view engine for
// time-indexed message stores. Hosts bind named streams, read them as
// live views (fixed ranges, tail counts, sliding tail windows), follow
// an instant cursor, or consume interval summaries, while the engine
// coalesces overlapping requests, batches physical store scans, and
// keeps every cache mutation on a single pump cycle.
//
// The entry point is data.NewManager; see cmd/streamview for a complete
// host wiring a bolt-backed store.
package streamview
