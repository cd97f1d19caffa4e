package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/streamview/errors"
	"github.com/c360/streamview/store"
	"github.com/c360/streamview/types"
	"github.com/c360/streamview/view"
)

// InstantTarget receives the message nearest to the cursor. For
// pool-backed payload types the target owns the clone it is handed and
// must release it.
type InstantTarget[T any] func(msg types.Message[T])

type instantTarget[T any] struct {
	epsilon time.Duration
	push    InstantTarget[T]
}

// instantState manages the reader's nearest-to-cursor push channel: the
// registered targets bucketed by epsilon and the dynamically widened
// index window the cursor searches in.
type instantState[T any] struct {
	r              *Reader[T]
	defaultEpsilon time.Duration
	padding        float64

	mu        sync.Mutex
	targets   map[uuid.UUID]*instantTarget[T]
	viewRange types.TimeRange
	indexView *view.View[types.IndexEntry]
}

func newInstantState[T any](r *Reader[T], defaultEpsilon time.Duration, padding float64) *instantState[T] {
	return &instantState[T]{
		r:              r,
		defaultEpsilon: defaultEpsilon,
		padding:        padding,
		targets:        make(map[uuid.UUID]*instantTarget[T]),
	}
}

// RegisterInstantTarget registers a push target and returns its token.
func (r *Reader[T]) RegisterInstantTarget(epsilon time.Duration, push InstantTarget[T]) (uuid.UUID, error) {
	if push == nil {
		return uuid.Nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Reader", "RegisterInstantTarget", "push function required")
	}
	s := r.instant
	if epsilon <= 0 {
		epsilon = s.defaultEpsilon
	}

	token := uuid.New()
	s.mu.Lock()
	s.targets[token] = &instantTarget[T]{epsilon: epsilon, push: push}
	s.mu.Unlock()
	return token, nil
}

// UnregisterInstantTarget removes a previously registered target.
func (r *Reader[T]) UnregisterInstantTarget(token uuid.UUID) error {
	s := r.instant
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[token]; !ok {
		return errors.WrapInvalid(errors.ErrTargetNotFound, "Reader", "UnregisterInstantTarget", "target lookup")
	}
	delete(s.targets, token)
	return nil
}

// UpdateInstantTargetEpsilon changes a registered target's cursor window.
func (r *Reader[T]) UpdateInstantTargetEpsilon(token uuid.UUID, epsilon time.Duration) error {
	if epsilon <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidRange, "Reader", "UpdateInstantTargetEpsilon", "epsilon validation")
	}
	s := r.instant
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.targets[token]
	if !ok {
		return errors.WrapInvalid(errors.ErrTargetNotFound, "Reader", "UpdateInstantTargetEpsilon", "target lookup")
	}
	target.epsilon = epsilon
	return nil
}

// InstantTargetCount returns the number of registered targets.
func (r *Reader[T]) InstantTargetCount() int {
	s := r.instant
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}

// OnInstantViewRangeChanged re-centers the instant index window on the
// viewport, extended by one viewport width on each side so small cursor
// moves do not force re-reads. A no-op while the current window still
// contains the viewport.
func (r *Reader[T]) OnInstantViewRangeChanged(viewport types.TimeRange) error {
	if !viewport.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidRange, "Reader", "OnInstantViewRangeChanged", "viewport validation")
	}

	s := r.instant
	s.mu.Lock()
	if s.viewRange.IsValid() && s.viewRange.ContainsRange(viewport) {
		s.mu.Unlock()
		return nil
	}
	padded := viewport.Pad(time.Duration(float64(viewport.Duration()) * s.padding))
	old := s.indexView
	s.mu.Unlock()

	// ReadIndex takes the request lock; never call it under s.mu.
	v, err := r.ReadIndex(padded)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.viewRange = padded
	s.indexView = v
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// ReadInstantData locates the index entry nearest to the cursor within
// each distinct target epsilon, physically reads that one message, and
// pushes it (cloned per target for pool-backed payloads) to every target
// in the bucket in parallel, then releases the local reference.
func (r *Reader[T]) ReadInstantData(ctx context.Context, cursor time.Time, h store.Handle) error {
	if r.canceled.Load() {
		return nil
	}

	s := r.instant
	s.mu.Lock()
	buckets := make(map[time.Duration][]InstantTarget[T], len(s.targets))
	for _, target := range s.targets {
		buckets[target.epsilon] = append(buckets[target.epsilon], target.push)
	}
	s.mu.Unlock()

	for epsilon, pushes := range buckets {
		entry, ok := r.indexCache.Nearest(cursor, epsilon)
		if !ok {
			continue
		}

		msg, err := r.Read(h, entry)
		if err != nil {
			r.log.Warn("instant read failed", "cursor", cursor, "error", err)
			continue
		}

		g, _ := errgroup.WithContext(ctx)
		for _, push := range pushes {
			out := msg
			if r.clone != nil {
				data, err := r.clone(msg.Data)
				if err != nil {
					r.log.Warn("instant clone failed", "cursor", cursor, "error", err)
					continue
				}
				out.Data = data
			}
			push := push
			g.Go(func() error {
				push(out)
				return nil
			})
		}
		_ = g.Wait()

		// The local reference is done; each target holds its own clone.
		r.releaseMessage(msg)
	}
	return nil
}

func (s *instantState[T]) close() {
	s.mu.Lock()
	old := s.indexView
	s.indexView = nil
	s.targets = map[uuid.UUID]*instantTarget[T]{}
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
}
