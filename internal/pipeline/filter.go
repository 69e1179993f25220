package pipeline

import (
	"iter"

	"github.com/arkilian/eventpipe/pkg/types"
)

// Filter keeps only events of the given type, preserving order.
// An upstream error is passed through and ends the sequence.
func Filter(events iter.Seq2[types.Event, error], eventType types.EventType) iter.Seq2[types.Event, error] {
	return func(yield func(types.Event, error) bool) {
		for event, err := range events {
			if err != nil {
				yield(event, err)
				return
			}
			if event.EventType != eventType {
				continue
			}
			if !yield(event, nil) {
				return
			}
		}
	}
}
