// Package processor drives the batch pipeline: it streams a dataset through
// the read, filter and batch stages, runs every batch on a worker pool and
// sums the per-batch counts.
package processor

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/arkilian/eventpipe/internal/dataset"
	perrors "github.com/arkilian/eventpipe/internal/errors"
	"github.com/arkilian/eventpipe/internal/ledger"
	"github.com/arkilian/eventpipe/internal/observability"
	"github.com/arkilian/eventpipe/internal/pipeline"
	"github.com/arkilian/eventpipe/internal/storage"
	"github.com/arkilian/eventpipe/internal/worker"
	"github.com/arkilian/eventpipe/pkg/types"
	"github.com/google/uuid"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultBatchSize  = 50_000
	DefaultBatchDelay = 3 * time.Second
	DefaultSlowRun    = 20 * time.Second

	DefaultFetchConcurrency = 4

	// slowestReported is how many of the slowest batches a report keeps
	slowestReported = 3
)

// Config holds processor configuration.
type Config struct {
	// InputPath is a dataset file, storage://<object key>, or
	// storage://<prefix>/ for every object under the prefix in key order
	InputPath string

	// EventType is kept by the filter stage (default: purchase)
	EventType types.EventType

	// BatchSize is the number of records per batch; it must be positive
	BatchSize int

	// WorkerCount is the pool size; 0 means host parallelism
	WorkerCount int

	// SlowBatch and SlowRun flag completion log lines; zero disables the flag
	SlowBatch time.Duration
	SlowRun   time.Duration

	OnMalformed pipeline.MalformedPolicy

	// CacheDir receives objects fetched for storage:// inputs
	CacheDir string

	// FetchConcurrency bounds parallel downloads for a storage:// prefix
	// input (default: DefaultFetchConcurrency)
	FetchConcurrency int
}

// DefaultConfig returns a configuration with every default filled in except InputPath.
func DefaultConfig() Config {
	return Config{
		EventType: types.EventPurchase,
		BatchSize: DefaultBatchSize,
		SlowBatch: worker.DefaultSlowBatch,
		SlowRun:   DefaultSlowRun,
	}
}

// Deps are the collaborators of a Processor. Every field is optional.
type Deps struct {
	Logger *log.Logger

	// BatchFunc is the per-batch work (default: SimulatedWork(DefaultBatchDelay))
	BatchFunc worker.BatchFunc

	// Ledger records every run when set
	Ledger ledger.Ledger

	// Storage serves storage:// inputs
	Storage storage.ObjectStorage
}

// Report is the outcome of a successful run.
type Report struct {
	RunID     string
	InputPath string
	EventType types.EventType
	Total     int64
	Batches   int64
	Skipped   int64
	Stats     observability.Snapshot
	Elapsed   time.Duration
	Slow      bool

	// Slowest are the slowest batches of the run, slowest first
	Slowest []observability.BatchSample
}

// Processor runs the batch pipeline. A Processor may be run more than once;
// every run reopens the input.
type Processor struct {
	cfg     Config
	fn      worker.BatchFunc
	logger  *log.Logger
	ledger  ledger.Ledger
	store   storage.ObjectStorage
	fetcher *storage.Fetcher
}

// New creates a processor.
func New(cfg Config, deps Deps) (*Processor, error) {
	if cfg.EventType == "" {
		cfg.EventType = types.EventPurchase
	}
	if !cfg.EventType.Valid() {
		return nil, perrors.NewValidationError(perrors.CodeInvalidConfig,
			fmt.Sprintf("event type %q is not one of view, click, purchase, refund", cfg.EventType))
	}
	if cfg.BatchSize <= 0 {
		return nil, perrors.NewValidationError(perrors.CodeInvalidBatchSize,
			fmt.Sprintf("batch size must be a positive integer, got %d", cfg.BatchSize))
	}
	if cfg.WorkerCount < 0 {
		return nil, perrors.NewValidationError(perrors.CodeInvalidConfig,
			fmt.Sprintf("worker count must not be negative, got %d", cfg.WorkerCount))
	}
	if cfg.InputPath == "" {
		return nil, perrors.NewValidationError(perrors.CodeInvalidConfig, "input path is required")
	}

	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = DefaultFetchConcurrency
	}

	p := &Processor{
		cfg:    cfg,
		fn:     deps.BatchFunc,
		logger: deps.Logger,
		ledger: deps.Ledger,
		store:  deps.Storage,
	}
	if p.fn == nil {
		p.fn = SimulatedWork(DefaultBatchDelay)
	}
	if p.logger == nil {
		p.logger = log.New(io.Discard, "", 0)
	}
	if deps.Storage != nil {
		p.fetcher = storage.NewFetcher(deps.Storage, cfg.FetchConcurrency, cfg.CacheDir)
	}
	return p, nil
}

// Run processes the input once. On failure no report is produced; the first
// reader or batch error is returned and outstanding batches are cancelled.
func (p *Processor) Run(ctx context.Context) (*Report, error) {
	runID, err := uuid.NewV7()
	if err != nil {
		return nil, perrors.NewInternalError("generate run id", err)
	}

	rec := &ledger.RunRecord{
		RunID:       runID.String(),
		InputPath:   p.cfg.InputPath,
		EventType:   string(p.cfg.EventType),
		BatchSize:   p.cfg.BatchSize,
		WorkerCount: p.cfg.WorkerCount,
		StartedAt:   time.Now(),
	}

	var report *Report
	elapsed, slow, err := observability.Timed(p.logger, "run", p.cfg.SlowRun, func() error {
		r, err := p.run(ctx, rec)
		if err != nil {
			return err
		}
		p.logger.Printf("Total events: %d", r.Total)
		if len(r.Slowest) > 0 {
			p.logger.Printf("Slowest batches: %s", formatSamples(r.Slowest))
		}
		report = r
		return nil
	})
	rec.FinishedAt = time.Now()
	rec.Elapsed = elapsed

	if err != nil {
		rec.Status = ledger.StatusFailed
		rec.Error = err.Error()
		p.logger.Printf("Run %s failed after %.3f seconds: %v", rec.RunID, rec.Elapsed.Seconds(), err)
		p.record(rec)
		return nil, err
	}

	report.Elapsed = elapsed
	report.Slow = slow

	rec.Status = ledger.StatusSucceeded
	rec.Total = report.Total
	rec.BatchCount = report.Batches
	rec.Skipped = report.Skipped
	rec.Batches = report.Stats.Samples
	p.record(rec)

	return report, nil
}

func formatSamples(samples []observability.BatchSample) string {
	parts := make([]string, len(samples))
	for i, s := range samples {
		parts[i] = fmt.Sprintf("%d (%d records, %.3fs)", s.BatchID, s.Size, s.Elapsed.Seconds())
	}
	return strings.Join(parts, ", ")
}

func (p *Processor) run(ctx context.Context, rec *ledger.RunRecord) (*Report, error) {
	inputs, err := p.resolveInputs(ctx)
	if err != nil {
		return nil, err
	}

	var skipped int64
	events := pipeline.WithContext(ctx, p.readAll(inputs, &skipped))
	batches, err := pipeline.Batch(pipeline.Filter(events, p.cfg.EventType), p.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	stats := observability.NewBatchStats()
	pool := worker.NewPool(ctx, p.cfg.WorkerCount, p.fn,
		worker.WithLogger(p.logger),
		worker.WithSlowThreshold(p.cfg.SlowBatch),
		worker.WithStats(stats),
	)
	rec.WorkerCount = pool.Size()

	produced := make(chan error, 1)
	go func() {
		defer pool.Close()
		produced <- submitAll(ctx, pool, batches)
	}()

	// Only this goroutine touches the total
	var total, count int64
	var firstErr error
	for fut := range pool.Completed() {
		n, err := fut.Wait(context.Background())
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += int64(n)
		count++
	}
	if err := <-produced; err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr == nil && ctx.Err() != nil {
		firstErr = context.Cause(ctx)
	}
	if firstErr != nil {
		return nil, firstErr
	}

	return &Report{
		RunID:     rec.RunID,
		InputPath: p.cfg.InputPath,
		EventType: p.cfg.EventType,
		Total:     total,
		Batches:   count,
		Skipped:   skipped,
		Stats:     stats.Snapshot(),
		Slowest:   stats.Slowest(slowestReported),
	}, nil
}

// readAll decodes the inputs one after another as a single stream. Skipped
// malformed lines are added to skipped as each input finishes. With more
// than one input, errors name the file they came from.
func (p *Processor) readAll(inputs []string, skipped *int64) iter.Seq2[types.Event, error] {
	return func(yield func(types.Event, error) bool) {
		for _, input := range inputs {
			f, err := dataset.Open(input)
			if err != nil {
				yield(types.Event{}, perrors.NewIOError(perrors.CodeOpenFailed, fmt.Sprintf("open %s", input), err))
				return
			}

			reader := pipeline.NewReader(f, pipeline.ReaderOptions{
				Policy: p.cfg.OnMalformed,
				Logger: p.logger,
			})
			more := true
			for event, err := range reader.Events() {
				if err != nil && len(inputs) > 1 {
					err = fmt.Errorf("%s: %w", input, err)
				}
				if !yield(event, err) || err != nil {
					more = false
					break
				}
			}
			*skipped += reader.Skipped()
			f.Close()
			if !more {
				return
			}
		}
	}
}

// submitAll feeds every batch into the pool. An upstream error cancels the
// pool so queued batches are abandoned; the partial batch is never submitted.
func submitAll(ctx context.Context, pool *worker.Pool, batches iter.Seq2[[]types.Event, error]) error {
	for batch, err := range batches {
		if err != nil {
			pool.Cancel(err)
			return err
		}
		if _, err := pool.Submit(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// resolveInputs maps the input path to local files. storage://<key> fetches
// one object; a key ending in "/" fetches every object under that prefix,
// read in key order and downloaded in the same order of priority.
func (p *Processor) resolveInputs(ctx context.Context) ([]string, error) {
	key, ok := storage.ParseObjectURI(p.cfg.InputPath)
	if !ok {
		return []string{p.cfg.InputPath}, nil
	}
	if p.fetcher == nil {
		return nil, perrors.NewValidationError(perrors.CodeInvalidConfig,
			fmt.Sprintf("input %s requires object storage", p.cfg.InputPath))
	}

	keys := []string{key}
	if strings.HasSuffix(key, "/") {
		listed, err := p.store.ListObjects(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(listed) == 0 {
			return nil, storage.ErrObjectNotFound.WithDetails(map[string]interface{}{"prefix": key})
		}
		slices.Sort(listed)
		keys = listed
	}

	priority := make([]int, len(keys))
	for i := range priority {
		priority[i] = i
	}
	result, err := p.fetcher.Fetch(ctx, &storage.FetchRequest{Keys: keys, Priority: priority, Refresh: true})
	if err != nil {
		return nil, err
	}

	locals := make([]string, len(keys))
	for i, k := range keys {
		if err := result.Errors[k]; err != nil {
			return nil, err
		}
		locals[i] = result.LocalPaths[k]
	}
	if len(keys) == 1 && keys[0] == key {
		p.logger.Printf("Fetched %s to %s", key, locals[0])
	} else {
		p.logger.Printf("Fetched %d objects under %s", len(keys), key)
	}
	return locals, nil
}

// record writes rec to the ledger. Ledger failures are logged and do not
// change the outcome of the run.
func (p *Processor) record(rec *ledger.RunRecord) {
	if p.ledger == nil {
		return
	}
	// The run context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.ledger.RecordRun(ctx, rec); err != nil {
		p.logger.Printf("Failed to record run %s: %v", rec.RunID, err)
	}
}

// SimulatedWork returns a BatchFunc that sleeps for d and accounts for every
// record of the batch.
func SimulatedWork(d time.Duration) worker.BatchFunc {
	return func(ctx context.Context, batch []types.Event) (int, error) {
		if d > 0 {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return 0, context.Cause(ctx)
			}
		}
		return len(batch), nil
	}
}

// CountOnly accounts for every record of the batch without delay.
func CountOnly(_ context.Context, batch []types.Event) (int, error) {
	return len(batch), nil
}
