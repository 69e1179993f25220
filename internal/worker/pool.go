// Package worker runs batch work on a fixed set of executor goroutines.
//
// Tasks go through a bounded queue, so a producer that submits faster than
// the executors drain blocks in Submit. Each task has a Future, and completed
// futures are published on Completed in the order they finish. The first
// failing task cancels the pool: queued tasks are resolved with the failure
// instead of running.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	perrors "github.com/arkilian/eventpipe/internal/errors"
	"github.com/arkilian/eventpipe/internal/observability"
	"github.com/arkilian/eventpipe/pkg/types"
	"golang.org/x/sync/errgroup"
)

// DefaultSlowBatch is the elapsed time above which a batch is flagged slow.
const DefaultSlowBatch = 5 * time.Second

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = perrors.New(perrors.ErrCategoryInternal, perrors.CodeUnexpected, "worker pool is closed")

// BatchFunc processes one batch and returns the number of records it accounts for.
type BatchFunc func(ctx context.Context, batch []types.Event) (int, error)

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger for completion lines (default: discard).
func WithLogger(logger *log.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSlowThreshold sets the slow-batch threshold. Zero disables the flag.
func WithSlowThreshold(d time.Duration) Option {
	return func(p *Pool) {
		p.slow = d
	}
}

// WithQueueSize sets the number of submitted tasks that may wait for an
// executor (default: 2 × pool size).
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n >= 0 {
			p.queueSize = n
		}
	}
}

// WithStats records every successful batch into stats.
func WithStats(stats *observability.BatchStats) Option {
	return func(p *Pool) {
		p.stats = stats
	}
}

// Future is the pending result of one submitted batch.
type Future struct {
	id   int64
	size int
	done chan struct{}

	result  int
	err     error
	elapsed time.Duration
	slow    bool
}

// ID returns the batch id, assigned in submission order starting at 1.
func (f *Future) ID() int64 {
	return f.id
}

// Size returns the number of records submitted with the batch.
func (f *Future) Size() int {
	return f.size
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the batch finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (int, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Elapsed returns how long the batch ran. Zero until Done, and for tasks
// that were cancelled before they started.
func (f *Future) Elapsed() time.Duration {
	select {
	case <-f.done:
		return f.elapsed
	default:
		return 0
	}
}

// Slow reports whether the batch exceeded the pool's slow threshold.
func (f *Future) Slow() bool {
	select {
	case <-f.done:
		return f.slow
	default:
		return false
	}
}

type task struct {
	future *Future
	batch  []types.Event
}

// Pool is a fixed-size batch executor.
type Pool struct {
	fn        BatchFunc
	size      int
	queueSize int
	slow      time.Duration
	logger    *log.Logger
	stats     *observability.BatchStats

	ctx    context.Context
	cancel context.CancelCauseFunc
	group  *errgroup.Group

	tasks     chan task
	completed chan *Future

	nextID atomic.Int64

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	err    error
}

// NewPool starts size executors running fn. size <= 0 means GOMAXPROCS.
// The pool stops when ctx is cancelled. Completed must be drained by the
// caller, otherwise executors block after their first finished batch.
func NewPool(ctx context.Context, size int, fn BatchFunc, opts ...Option) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}

	p := &Pool{
		fn:        fn,
		size:      size,
		queueSize: 2 * size,
		slow:      DefaultSlowBatch,
		logger:    log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.ctx, p.cancel = context.WithCancelCause(ctx)
	p.group = new(errgroup.Group)
	p.tasks = make(chan task, p.queueSize)
	p.completed = make(chan *Future, size)

	for i := 0; i < size; i++ {
		p.group.Go(p.execute)
	}
	return p
}

// Size returns the number of executors.
func (p *Pool) Size() int {
	return p.size
}

// Submit queues batch for execution. It blocks while the queue is full and
// fails once the pool is cancelled or closed.
func (p *Pool) Submit(ctx context.Context, batch []types.Event) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if err := p.ctx.Err(); err != nil {
		return nil, context.Cause(p.ctx)
	}

	f := &Future{
		id:   p.nextID.Add(1),
		size: len(batch),
		done: make(chan struct{}),
	}

	select {
	case p.tasks <- task{future: f, batch: batch}:
		return f, nil
	case <-p.ctx.Done():
		return nil, context.Cause(p.ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Completed delivers every submitted future once it finishes, in finishing
// order. It is closed after Close once all tasks are resolved.
func (p *Pool) Completed() <-chan *Future {
	return p.completed
}

// Cancel aborts the pool with cause. Queued tasks resolve with cause without
// running; running tasks see their context cancelled.
func (p *Pool) Cancel(cause error) {
	p.cancel(cause)
}

// Close stops accepting submissions. Completed is closed once the executors
// have resolved every queued task. Close is idempotent.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()

		go func() {
			p.err = p.group.Wait()
			p.cancel(nil)
			close(p.completed)
		}()
	})
}

// Err returns the first batch failure. It is only meaningful after
// Completed has been closed.
func (p *Pool) Err() error {
	return p.err
}

func (p *Pool) execute() error {
	var firstErr error
	for t := range p.tasks {
		if p.ctx.Err() != nil {
			p.resolve(t.future, 0, context.Cause(p.ctx))
			continue
		}

		n, err := p.run(t)
		if err != nil && firstErr == nil {
			firstErr = err
			p.cancel(err)
		}
		p.resolve(t.future, n, err)
	}
	return firstErr
}

// run executes one batch, converting a panic into a worker error.
func (p *Pool) run(t task) (n int, err error) {
	f := t.future
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			n = 0
			err = perrors.NewWorkerError(fmt.Sprintf("batch %d panicked", f.id), fmt.Errorf("%v", r))
		}

		f.elapsed = time.Since(start)
		name := fmt.Sprintf("batch %d (%d records)", f.id, f.size)
		f.slow = observability.LogFinished(p.logger, name, f.elapsed, p.slow)

		if err != nil {
			p.logger.Printf("Batch %d failed: %v", f.id, err)
			return
		}
		if p.stats != nil {
			p.stats.Record(observability.BatchSample{
				BatchID: f.id,
				Size:    f.size,
				Elapsed: f.elapsed,
				Slow:    f.slow,
			})
		}
	}()

	n, err = p.fn(p.ctx, t.batch)
	var pipelineErr *perrors.PipelineError
	if err != nil && !errors.As(err, &pipelineErr) {
		err = perrors.NewWorkerError(fmt.Sprintf("batch %d", f.id), err)
	}
	return n, err
}

func (p *Pool) resolve(f *Future, n int, err error) {
	f.result = n
	f.err = err
	close(f.done)
	p.completed <- f
}
