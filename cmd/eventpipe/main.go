// Package main implements the unified eventpipe binary.
// It generates a synthetic event log, processes it in batches, or verifies
// it, depending on the --mode flag.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkilian/eventpipe/internal/app"
	"github.com/arkilian/eventpipe/internal/config"
	"github.com/joho/godotenv"
	"go.uber.org/automaxprocs/maxprocs"
)

var (
	version = "dev"
	commit  = "unknown"
)

// options holds the command line flags.
type options struct {
	configFile  string
	dataDir     string
	mode        string
	envFile     string
	input       string
	output      string
	count       int
	batchSize   int
	workers     int
	eventType   string
	showVersion bool
	showHelp    bool
}

func newFlagSet(o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("eventpipe", flag.ContinueOnError)
	fs.StringVar(&o.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&o.dataDir, "data-dir", "", "Base directory for dataset, cache and ledger files")
	fs.StringVar(&o.mode, "mode", "", "Job mode: all, generate, process, verify (default all)")
	fs.StringVar(&o.envFile, "env-file", ".env", "Environment file loaded before EVENTPIPE_* overrides")
	fs.StringVar(&o.input, "input", "", "Dataset to process: a file or storage://<key>")
	fs.StringVar(&o.output, "output", "", "Dataset file to generate (.sz for snappy)")
	fs.IntVar(&o.count, "count", 0, "Number of records to generate")
	fs.IntVar(&o.batchSize, "batch-size", 0, "Records per batch (must be positive)")
	fs.IntVar(&o.workers, "workers", 0, "Worker pool size (0 = number of CPUs)")
	fs.StringVar(&o.eventType, "event-type", "", "Event type to count")
	fs.BoolVar(&o.showVersion, "version", false, "Show version information")
	fs.BoolVar(&o.showHelp, "help", false, "Show help message")

	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "eventpipe - synthetic event log generator and batch processor\n\n")
		fmt.Fprintf(out, "Usage: eventpipe [options]\n\n")
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nExamples:\n")
		fmt.Fprintf(out, "  eventpipe --mode generate --count 1000000\n")
		fmt.Fprintf(out, "  eventpipe --mode process --input data/events.jsonl --workers 8\n")
		fmt.Fprintf(out, "  eventpipe --config /etc/eventpipe/config.yaml\n")
		fmt.Fprintf(out, "\nEnvironment Variables:\n")
		fmt.Fprintf(out, "  EVENTPIPE_MODE          Job mode (all, generate, process, verify)\n")
		fmt.Fprintf(out, "  EVENTPIPE_DATA_DIR      Base directory for data files\n")
		fmt.Fprintf(out, "  EVENTPIPE_BATCH_SIZE    Records per batch\n")
		fmt.Fprintf(out, "  EVENTPIPE_STORAGE_TYPE  Storage type (none, local, s3)\n")
	}
	return fs
}

// apply copies the flags given on the command line into cfg. Flags left
// unset keep the file and environment values; an explicit zero is applied
// and left to validation.
func (o *options) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-dir":
			cfg.DataDir = o.dataDir
		case "mode":
			cfg.Mode = config.Mode(o.mode)
		case "input":
			cfg.Processor.InputPath = o.input
		case "output":
			cfg.Generator.OutputPath = o.output
		case "count":
			cfg.Generator.Count = o.count
		case "batch-size":
			cfg.Processor.BatchSize = o.batchSize
		case "workers":
			cfg.Processor.WorkerCount = o.workers
		case "event-type":
			cfg.Processor.EventType = o.eventType
		}
	})
}

func main() {
	var opts options
	fs := newFlagSet(&opts)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if opts.showHelp {
		fs.Usage()
		os.Exit(0)
	}

	if opts.showVersion {
		fmt.Printf("eventpipe version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Printf)); err != nil {
		logger.Printf("Failed to set GOMAXPROCS: %v", err)
	}

	// A missing .env file is not an error
	_ = godotenv.Load(opts.envFile)

	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		logger.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	// Command line flags have the highest priority
	opts.apply(fs, cfg)

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Printf("Failed to create application: %v", err)
		os.Exit(1)
	}

	printBanner(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)
	if err := application.Close(); err != nil {
		logger.Printf("Close error: %v", err)
	}
	if runErr != nil {
		logger.Printf("eventpipe failed: %v", runErr)
		stop()
		os.Exit(1)
	}
}

// loadConfig loads configuration from file and environment.
func loadConfig(configFile string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printBanner prints the configuration summary.
func printBanner(logger *log.Logger, cfg *config.Config) {
	logger.Printf("eventpipe %s", version)
	logger.Printf("Configuration:")
	logger.Printf("  Mode:     %s", cfg.Mode)
	logger.Printf("  Data Dir: %s", cfg.DataDir)
	logger.Printf("  Storage:  %s", cfg.Storage.Type)
	logger.Printf("  Ledger:   %t", cfg.Ledger.Enabled)

	if cfg.ShouldRunGenerate() {
		logger.Printf("Generator:")
		logger.Printf("  Output: %s", cfg.Generator.OutputPath)
		logger.Printf("  Count:  %d", cfg.Generator.Count)
	}

	if cfg.ShouldRunProcess() {
		logger.Printf("Processor:")
		logger.Printf("  Input:      %s", cfg.Processor.InputPath)
		logger.Printf("  Event Type: %s", cfg.Processor.EventType)
		logger.Printf("  Batch Size: %d", cfg.Processor.BatchSize)
		logger.Printf("  Workers:    %d", cfg.Processor.WorkerCount)
	}

	if cfg.ShouldRunVerify() {
		logger.Printf("Verify:")
		logger.Printf("  Path: %s", cfg.Verify.Path)
	}
}
