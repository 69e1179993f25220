package pipeline

import (
	"fmt"
	"iter"

	perrors "github.com/arkilian/eventpipe/internal/errors"
)

// Batch groups items into slices of exactly size elements. The final slice
// holds the remainder (1..size) and is always emitted; an empty input yields
// no batches at all. Every yielded slice is freshly allocated and owned by
// the receiver. An upstream error is passed through and ends the sequence;
// the partial batch collected so far is discarded.
func Batch[T any](items iter.Seq2[T, error], size int) (iter.Seq2[[]T, error], error) {
	if size <= 0 {
		return nil, perrors.NewValidationError(perrors.CodeInvalidBatchSize,
			fmt.Sprintf("batch size must be a positive integer, got %d", size))
	}

	return func(yield func([]T, error) bool) {
		var batch []T
		for item, err := range items {
			if err != nil {
				yield(nil, err)
				return
			}
			if batch == nil {
				batch = make([]T, 0, size)
			}
			batch = append(batch, item)
			if len(batch) == size {
				if !yield(batch, nil) {
					return
				}
				batch = nil
			}
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}, nil
}
