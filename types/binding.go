package types

import (
	"fmt"
	"time"

	"github.com/c360/streamview/errors"
)

// StreamBinding identifies one stream within one store together with the
// reader, adapter, and summarizer used to materialize it. Bindings are
// value types; their derived keys deduplicate stream readers, store
// readers, and summary caches.
type StreamBinding struct {
	StreamName    string
	PartitionName string
	StoreName     string
	StorePath     string
	ReaderType    string
	AdapterType   string

	SummarizerType string
	SummarizerArgs []string
}

// Validate rejects bindings that cannot address a stream.
func (b StreamBinding) Validate() error {
	if b.StoreName == "" || b.StorePath == "" {
		return errors.WrapInvalid(errors.ErrInvalidBinding, "StreamBinding", "Validate", "store name and path required")
	}
	if b.StreamName == "" {
		return errors.WrapInvalid(errors.ErrInvalidBinding, "StreamBinding", "Validate", "stream name required")
	}
	return nil
}

// StoreKey deduplicates store readers: one reader per (store name, path,
// reader type).
func (b StreamBinding) StoreKey() string {
	return fmt.Sprintf("%s|%s|%s", b.StoreName, b.StorePath, b.ReaderType)
}

// ReaderKey deduplicates stream readers: one reader per (store name, path,
// stream, adapter).
func (b StreamBinding) ReaderKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", b.StoreName, b.StorePath, b.StreamName, b.AdapterType)
}

// SummarizerKey deduplicates summary managers: the reader identity plus
// the summarizer and its arguments, across all bucket intervals.
func (b StreamBinding) SummarizerKey() string {
	return fmt.Sprintf("%s|%s|%v", b.ReaderKey(), b.SummarizerType, b.SummarizerArgs)
}

// SummaryKey deduplicates summary caches: the summarizer identity plus
// the bucket interval.
func (b StreamBinding) SummaryKey(interval time.Duration) string {
	return fmt.Sprintf("%s|%d", b.SummarizerKey(), interval)
}
