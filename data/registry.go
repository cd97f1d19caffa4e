// Package data ties the engine together: a type-token registry bridging
// stream type names to typed decoders, a store reader batching pending
// requests into shared sequential scans, and the data manager driving
// the pump cycle and serving the public read surface.
package data

import (
	"sync"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/store"
	"github.com/c360/streamview/stream"
	"github.com/c360/streamview/summarize"
)

// decoderEntry carries everything needed to build a typed stream reader
// for one registered type name. Boxed as any in the registry; retrieval
// re-asserts the concrete type parameter.
type decoderEntry[T any] struct {
	decode  stream.DecodeFunc[T]
	options []stream.Option[T]
}

// Registry maps stream type names to typed decode factories and
// summarizer names to typed summarizers. The generics bridge is a type
// assertion against the boxed entry: a lookup with the wrong type
// parameter fails with ErrCodecMismatch instead of reflecting.
type Registry struct {
	mu          sync.RWMutex
	decoders    map[string]any
	summarizers map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		decoders:    make(map[string]any),
		summarizers: make(map[string]any),
	}
}

// RegisterDecoder binds a type name to a decode function plus the reader
// options (release/clone hooks for pooled payloads) readers of that type
// are built with. Registering an existing name replaces it.
func RegisterDecoder[T any](r *Registry, name string, decode stream.DecodeFunc[T], options ...stream.Option[T]) error {
	if name == "" || decode == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterDecoder", "name and decode function required")
	}
	r.mu.Lock()
	r.decoders[name] = &decoderEntry[T]{decode: decode, options: options}
	r.mu.Unlock()
	return nil
}

// RegisterCodec binds a type name to a store codec, decoding every
// record payload as a fresh value.
func RegisterCodec[T any](r *Registry, name string, codec store.Codec[T], options ...stream.Option[T]) error {
	if codec == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterCodec", "codec required")
	}
	decode := func(rec store.Record) (T, error) {
		var zero T
		return codec.Unmarshal(rec.Payload, zero)
	}
	return RegisterDecoder(r, name, decode, options...)
}

// RegisterSummarizer binds a summarizer name to a typed summarizer.
func RegisterSummarizer[T any](r *Registry, name string, s summarize.Summarizer[T]) error {
	if name == "" || s == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterSummarizer", "name and summarizer required")
	}
	r.mu.Lock()
	r.summarizers[name] = s
	r.mu.Unlock()
	return nil
}

// decoderFor resolves a type name to its decode entry for T.
func decoderFor[T any](r *Registry, name string) (*decoderEntry[T], error) {
	r.mu.RLock()
	boxed, ok := r.decoders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrCodecMismatch, "Registry", "decoderFor", "no decoder registered for type "+name)
	}
	entry, ok := boxed.(*decoderEntry[T])
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrCodecMismatch, "Registry", "decoderFor", "decoder for type "+name+" has a different payload type")
	}
	return entry, nil
}

// summarizerFor resolves a summarizer name for T.
func summarizerFor[T any](r *Registry, name string) (summarize.Summarizer[T], error) {
	r.mu.RLock()
	boxed, ok := r.summarizers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrCodecMismatch, "Registry", "summarizerFor", "no summarizer registered for "+name)
	}
	s, ok := boxed.(summarize.Summarizer[T])
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrCodecMismatch, "Registry", "summarizerFor", "summarizer "+name+" has a different payload type")
	}
	return s, nil
}
