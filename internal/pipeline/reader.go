// Package pipeline provides the lazy read, filter and batch stages of the
// batch processor. Each stage is an iter.Seq2 that pulls from the previous
// one on demand, so memory stays constant in the size of the input.
package pipeline

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"unicode/utf8"

	perrors "github.com/arkilian/eventpipe/internal/errors"
	"github.com/arkilian/eventpipe/pkg/types"
	jsoniter "github.com/json-iterator/go"
)

// MalformedPolicy selects what the reader does with a line that does not
// decode into a valid event.
type MalformedPolicy int

const (
	// MalformedFail yields a decode error and stops the sequence
	MalformedFail MalformedPolicy = iota

	// MalformedSkip logs and counts the line, then continues
	MalformedSkip
)

// ParseMalformedPolicy maps the configuration names "fail" and "skip" to a
// policy. An empty name means MalformedFail.
func ParseMalformedPolicy(name string) (MalformedPolicy, error) {
	switch name {
	case "", "fail":
		return MalformedFail, nil
	case "skip":
		return MalformedSkip, nil
	default:
		return MalformedFail, perrors.NewValidationError(perrors.CodeInvalidConfig,
			fmt.Sprintf("unknown malformed record policy %q", name))
	}
}

func (p MalformedPolicy) String() string {
	if p == MalformedSkip {
		return "skip"
	}
	return "fail"
}

// DefaultMaxLineSize bounds a single record line.
const DefaultMaxLineSize = 1 << 20

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	Policy MalformedPolicy

	// Logger receives skipped-line messages (default: discard)
	Logger *log.Logger

	// MaxLineSize is the longest accepted line in bytes (default: 1 MiB)
	MaxLineSize int
}

// Reader decodes one event per line from an underlying stream.
type Reader struct {
	src      io.Reader
	policy   MalformedPolicy
	logger   *log.Logger
	maxLine  int
	consumed bool
	lines    int64
	skipped  int64
}

// NewReader creates a reader over r. The caller keeps ownership of r.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.MaxLineSize <= 0 {
		opts.MaxLineSize = DefaultMaxLineSize
	}
	return &Reader{
		src:     r,
		policy:  opts.Policy,
		logger:  opts.Logger,
		maxLine: opts.MaxLineSize,
	}
}

// Events returns the decoded records in file order. The sequence can be
// ranged over once; later calls yield nothing. A decode failure under
// MalformedFail is yielded as the final element. I/O failures always end
// the sequence with an error.
func (r *Reader) Events() iter.Seq2[types.Event, error] {
	return func(yield func(types.Event, error) bool) {
		if r.consumed {
			return
		}
		r.consumed = true

		scanner := bufio.NewScanner(r.src)
		scanner.Buffer(make([]byte, 0, min(64*1024, r.maxLine)), r.maxLine)

		for scanner.Scan() {
			r.lines++

			event, err := decodeLine(scanner.Bytes())
			if err != nil {
				decodeErr := perrors.NewDecodeError(fmt.Sprintf("line %d", r.lines), err).
					WithDetails(map[string]interface{}{"line": r.lines})
				if r.policy == MalformedSkip {
					r.skipped++
					r.logger.Printf("Skipping malformed line %d: %v", r.lines, err)
					continue
				}
				yield(types.Event{}, decodeErr)
				return
			}

			if !yield(event, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(types.Event{}, perrors.NewIOError(perrors.CodeReadFailed,
				fmt.Sprintf("read events after line %d", r.lines), err))
		}
	}
}

// eventJSON binds keys case-sensitively, so "Event_Type" is not read as
// event_type.
var eventJSON = jsoniter.Config{CaseSensitive: true}.Froze()

var (
	errInvalidUTF8 = errors.New("line is not valid UTF-8")
	errInvalidJSON = errors.New("line is not a single JSON value")
)

func decodeLine(line []byte) (types.Event, error) {
	if !utf8.Valid(line) {
		return types.Event{}, errInvalidUTF8
	}
	if !json.Valid(line) {
		return types.Event{}, errInvalidJSON
	}

	var event types.Event
	if err := eventJSON.Unmarshal(line, &event); err != nil {
		return types.Event{}, err
	}
	if err := event.Validate(); err != nil {
		return types.Event{}, err
	}
	return event, nil
}

// Lines returns the number of lines consumed so far.
func (r *Reader) Lines() int64 {
	return r.lines
}

// Skipped returns the number of malformed lines skipped so far.
func (r *Reader) Skipped() int64 {
	return r.skipped
}
