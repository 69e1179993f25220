// Package app wires configuration, storage, the ledger and the jobs into the
// lifecycle shared by the eventpipe binaries.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/arkilian/eventpipe/internal/config"
	"github.com/arkilian/eventpipe/internal/dataset"
	perrors "github.com/arkilian/eventpipe/internal/errors"
	"github.com/arkilian/eventpipe/internal/generator"
	"github.com/arkilian/eventpipe/internal/ledger"
	"github.com/arkilian/eventpipe/internal/pipeline"
	"github.com/arkilian/eventpipe/internal/processor"
	"github.com/arkilian/eventpipe/internal/storage"
	"github.com/arkilian/eventpipe/internal/worker"
	"github.com/arkilian/eventpipe/pkg/types"
	"github.com/google/uuid"
)

// App runs the configured jobs once.
type App struct {
	cfg    *config.Config
	logger *log.Logger

	// Shared resources
	storage storage.ObjectStorage
	ledger  ledger.Ledger

	// BatchFunc overrides the simulated per-batch work
	BatchFunc worker.BatchFunc

	// Results of the last Run, nil for jobs that did not run
	Generated *generator.Result
	Processed *processor.Report
	Verified  *dataset.Report

	mu      sync.Mutex
	running bool
	closed  bool
}

// New creates an App. It resolves and validates cfg and creates the data
// directories. A nil logger discards output.
func New(cfg *config.Config, logger *log.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, perrors.NewIOError(perrors.CodeOpenFailed, "create directories", err)
	}

	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run initializes shared resources and runs the jobs selected by the mode.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running || a.closed {
		a.mu.Unlock()
		return fmt.Errorf("app is already running or closed")
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	if err := a.initSharedResources(ctx); err != nil {
		return err
	}

	a.logger.Printf("eventpipe running in %s mode", a.cfg.Mode)

	if a.cfg.ShouldRunGenerate() {
		if err := a.generate(ctx); err != nil {
			return err
		}
	}

	if a.cfg.ShouldRunProcess() {
		if err := a.process(ctx); err != nil {
			return err
		}
	}

	if a.cfg.ShouldRunVerify() {
		if err := a.verify(ctx); err != nil {
			return err
		}
	}

	return nil
}

// initSharedResources opens storage and the ledger once.
func (a *App) initSharedResources(ctx context.Context) error {
	if a.storage == nil {
		store, err := storage.New(ctx, a.cfg.Storage)
		if err != nil {
			return err
		}
		if store != nil {
			a.storage = store
			a.logger.Printf("Storage initialized: type=%s", a.cfg.Storage.Type)
			if a.cfg.Storage.Type == config.StorageS3 {
				a.logger.Printf("S3 config: bucket=%s, region=%s, endpoint=%s",
					a.cfg.Storage.S3.Bucket, a.cfg.Storage.S3.Region, a.cfg.Storage.S3.Endpoint)
			}
		}
	}

	if a.ledger == nil && a.cfg.Ledger.Enabled {
		l, err := ledger.Open(a.cfg.Ledger.Path)
		if err != nil {
			return err
		}
		a.ledger = l
		a.logger.Printf("Ledger initialized: %s", a.cfg.Ledger.Path)
	}

	return nil
}

func (a *App) generate(ctx context.Context) error {
	gcfg := a.cfg.Generator
	g := generator.New(generator.Config{
		Window: gcfg.Window,
		Seed:   gcfg.Seed,
	}, a.logger)

	result, err := g.GenerateFile(ctx, gcfg.OutputPath, gcfg.Count)
	if err != nil {
		return err
	}
	a.Generated = result

	rec := &ledger.DatasetRecord{
		DatasetID:   uuid.Must(uuid.NewV7()).String(),
		Path:        result.Path,
		RecordCount: int64(result.Count),
		SizeBytes:   result.SizeBytes,
		Seed:        result.Seed,
		WindowStart: result.WindowStart,
		WindowEnd:   result.WindowEnd,
		CreatedAt:   time.Now(),
	}

	if gcfg.Publish {
		key, etag, err := storage.Publish(ctx, a.storage, result.Path)
		if err != nil {
			return err
		}
		rec.ObjectKey = key
		rec.ETag = etag
		a.logger.Printf("Published %s as %s", result.Path, storage.ObjectURI(key))
	}

	if a.ledger != nil {
		if err := a.ledger.RecordDataset(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) process(ctx context.Context) error {
	pcfg := a.cfg.Processor
	policy, err := pipeline.ParseMalformedPolicy(pcfg.OnMalformed)
	if err != nil {
		return err
	}

	fn := a.BatchFunc
	if fn == nil {
		fn = processor.SimulatedWork(pcfg.BatchDelay)
	}

	p, err := processor.New(processor.Config{
		InputPath:   pcfg.InputPath,
		EventType:   types.EventType(pcfg.EventType),
		BatchSize:   pcfg.BatchSize,
		WorkerCount: pcfg.WorkerCount,
		SlowBatch:   pcfg.SlowBatch,
		SlowRun:     pcfg.SlowRun,
		OnMalformed: policy,
		CacheDir:    a.cfg.Storage.CacheDir,

		FetchConcurrency: a.cfg.Storage.FetchConcurrency,
	}, processor.Deps{
		Logger:    a.logger,
		BatchFunc: fn,
		Ledger:    a.ledger,
		Storage:   a.storage,
	})
	if err != nil {
		return err
	}

	report, err := p.Run(ctx)
	if err != nil {
		return err
	}
	a.Processed = report
	return nil
}

func (a *App) verify(ctx context.Context) error {
	opts := dataset.VerifyOptions{}

	// The generation window is only known when the ledger recorded it
	if a.ledger != nil {
		datasets, err := a.ledger.ListDatasets(ctx, 100)
		if err != nil {
			return err
		}
		for _, d := range datasets {
			if d.Path == a.cfg.Verify.Path {
				opts.WindowStart = d.WindowStart
				opts.WindowEnd = d.WindowEnd
				opts.ExpectedRecords = int(d.RecordCount)
				break
			}
		}
	}

	report, err := dataset.NewVerifier(opts, a.logger).VerifyFile(ctx, a.cfg.Verify.Path)
	if err != nil {
		return err
	}
	a.Verified = report

	for _, et := range types.EventTypes {
		a.logger.Printf("  %-8s %10d (%.2f%%)", et, report.ByType[et], report.Share(et)*100)
	}
	if !report.OK() {
		return perrors.New(perrors.ErrCategoryDecode, perrors.CodeMalformedRecord,
			fmt.Sprintf("dataset %s failed verification: %s", report.Path, report))
	}
	return nil
}

// Close releases the ledger. Close is idempotent.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Config returns the resolved configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}
