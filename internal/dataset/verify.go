package dataset

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/arkilian/eventpipe/internal/bloom"
	perrors "github.com/arkilian/eventpipe/internal/errors"
	"github.com/arkilian/eventpipe/internal/pipeline"
	"github.com/arkilian/eventpipe/pkg/types"
)

const (
	defaultFalsePositiveRate = 0.001
	maxDuplicateExamples     = 10
	cancelCheckInterval      = 8192

	// Rough on-disk size of one record, used to size the bloom filter
	approxRecordBytes = 160
)

// VerifyOptions configures a Verifier.
type VerifyOptions struct {
	// WindowStart and WindowEnd bound event timestamps; zero values skip the check
	WindowStart time.Time
	WindowEnd   time.Time

	// ExpectedRecords sizes the duplicate filter; 0 estimates from file size
	ExpectedRecords int

	// FalsePositiveRate of the duplicate filter (default: 0.001)
	FalsePositiveRate float64
}

// Report summarizes a verified dataset.
type Report struct {
	Path        string
	Lines       int64
	Valid       int64
	Invalid     int64
	OutOfWindow int64
	ByType      map[types.EventType]int64

	// Duplicates counts repeated occurrences; an id seen three times adds two
	Duplicates   int64
	DuplicateIDs []string

	// Suspects is the number of ids re-checked on the second pass
	Suspects int
	Elapsed  time.Duration
}

// OK reports whether the dataset has no invalid, out-of-window or duplicate records.
func (r *Report) OK() bool {
	return r.Invalid == 0 && r.OutOfWindow == 0 && r.Duplicates == 0
}

// Share returns the fraction of valid records with the given type.
func (r *Report) Share(eventType types.EventType) float64 {
	if r.Valid == 0 {
		return 0
	}
	return float64(r.ByType[eventType]) / float64(r.Valid)
}

// Verifier checks dataset files against the event data model.
//
// Duplicate ids are found in two passes so memory does not grow with the
// number of records: the first pass adds every id to a bloom filter and keeps
// only ids that test positive, the second pass counts those suspects exactly.
type Verifier struct {
	opts   VerifyOptions
	logger *log.Logger
}

// NewVerifier creates a verifier. A nil logger discards output.
func NewVerifier(opts VerifyOptions, logger *log.Logger) *Verifier {
	if opts.FalsePositiveRate <= 0 || opts.FalsePositiveRate >= 1 {
		opts.FalsePositiveRate = defaultFalsePositiveRate
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Verifier{opts: opts, logger: logger}
}

// VerifyFile verifies the dataset at path.
func (v *Verifier) VerifyFile(ctx context.Context, path string) (*Report, error) {
	start := time.Now()

	expected := v.opts.ExpectedRecords
	if expected <= 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, perrors.NewIOError(perrors.CodeOpenFailed, "stat dataset", err)
		}
		expected = estimateRecords(info.Size(), IsCompressed(path))
	}

	report := &Report{
		Path:   path,
		ByType: make(map[types.EventType]int64),
	}

	filter := bloom.NewWithEstimates(expected, v.opts.FalsePositiveRate)
	suspects := make(map[string]int)

	err := v.scan(ctx, path, func(e types.Event) {
		report.Valid++
		report.ByType[e.EventType]++
		if !v.inWindow(e) {
			report.OutOfWindow++
		}
		if filter.TestAndAdd(e.EventID) {
			suspects[e.EventID] = 0
		}
	}, report)
	if err != nil {
		return nil, err
	}
	report.Suspects = len(suspects)

	if len(suspects) > 0 {
		err := v.scan(ctx, path, func(e types.Event) {
			if n, ok := suspects[e.EventID]; ok {
				suspects[e.EventID] = n + 1
			}
		}, nil)
		if err != nil {
			return nil, err
		}

		for id, n := range suspects {
			if n > 1 {
				report.Duplicates += int64(n - 1)
				if len(report.DuplicateIDs) < maxDuplicateExamples {
					report.DuplicateIDs = append(report.DuplicateIDs, id)
				}
			}
		}
	}

	report.Elapsed = time.Since(start)
	v.logger.Printf("Verified %s: %d lines, %d valid, %d invalid, %d out of window, %d duplicate ids in %.3f seconds",
		path, report.Lines, report.Valid, report.Invalid, report.OutOfWindow, report.Duplicates, report.Elapsed.Seconds())
	return report, nil
}

// scan streams the valid events of path into fn. When report is non-nil the
// line and invalid counts are stored in it.
func (v *Verifier) scan(ctx context.Context, path string, fn func(types.Event), report *Report) error {
	f, err := Open(path)
	if err != nil {
		return perrors.NewIOError(perrors.CodeOpenFailed, "open dataset", err)
	}
	defer f.Close()

	r := pipeline.NewReader(f, pipeline.ReaderOptions{Policy: pipeline.MalformedSkip})

	var seen int64
	for e, err := range r.Events() {
		if err != nil {
			return err
		}
		seen++
		if seen%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fn(e)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if report != nil {
		report.Lines = r.Lines()
		report.Invalid = r.Skipped()
	}
	return nil
}

func (v *Verifier) inWindow(e types.Event) bool {
	if v.opts.WindowStart.IsZero() && v.opts.WindowEnd.IsZero() {
		return true
	}
	ts, err := e.Time()
	if err != nil {
		return false
	}
	if !v.opts.WindowStart.IsZero() && ts.Before(v.opts.WindowStart) {
		return false
	}
	if !v.opts.WindowEnd.IsZero() && ts.After(v.opts.WindowEnd) {
		return false
	}
	return true
}

func estimateRecords(size int64, compressed bool) int {
	if compressed {
		size *= 3
	}
	n := size / approxRecordBytes
	if n < 1024 {
		n = 1024
	}
	return int(n)
}

// String formats the report for logs.
func (r *Report) String() string {
	return fmt.Sprintf("lines=%d valid=%d invalid=%d out_of_window=%d duplicates=%d view=%d click=%d purchase=%d refund=%d",
		r.Lines, r.Valid, r.Invalid, r.OutOfWindow, r.Duplicates,
		r.ByType[types.EventView], r.ByType[types.EventClick], r.ByType[types.EventPurchase], r.ByType[types.EventRefund])
}
