package pipeline

import (
	"context"
	"iter"
)

// CancelCheckInterval is how many elements pass between context checks.
const CancelCheckInterval = 4096

// WithContext ends seq with the context's cause once ctx is done. The
// context is checked before the first element, every CancelCheckInterval
// elements, and when seq is exhausted, so a stage that drops most of its
// input still notices cancellation.
func WithContext[T any](ctx context.Context, seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		n := 0
		for item, err := range seq {
			if n%CancelCheckInterval == 0 && ctx.Err() != nil {
				yield(zero, context.Cause(ctx))
				return
			}
			n++
			if !yield(item, err) || err != nil {
				return
			}
		}
		if ctx.Err() != nil {
			yield(zero, context.Cause(ctx))
		}
	}
}
