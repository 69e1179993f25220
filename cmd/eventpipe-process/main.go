// Package main implements the eventpipe-process binary.
// It filters an event log by type, runs fixed-size batches on a worker pool
// and logs the total.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arkilian/eventpipe/internal/pipeline"
	"github.com/arkilian/eventpipe/internal/processor"
	"github.com/arkilian/eventpipe/pkg/types"
	"github.com/joho/godotenv"
	"go.uber.org/automaxprocs/maxprocs"
)

// Config holds the binary configuration.
type Config struct {
	InputPath   string
	EventType   string
	BatchSize   int
	Workers     int
	BatchDelay  time.Duration
	OnMalformed string
}

func main() {
	cfg := parseFlags()
	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	if _, err := maxprocs.Set(maxprocs.Logger(logger.Printf)); err != nil {
		logger.Printf("Failed to set GOMAXPROCS: %v", err)
	}

	policy, err := pipeline.ParseMalformedPolicy(cfg.OnMalformed)
	if err != nil {
		logger.Printf("Invalid flags: %v", err)
		os.Exit(1)
	}

	pcfg := processor.DefaultConfig()
	pcfg.InputPath = cfg.InputPath
	pcfg.EventType = types.EventType(cfg.EventType)
	pcfg.BatchSize = cfg.BatchSize
	pcfg.WorkerCount = cfg.Workers
	pcfg.OnMalformed = policy

	p, err := processor.New(pcfg, processor.Deps{
		Logger:    logger,
		BatchFunc: processor.SimulatedWork(cfg.BatchDelay),
	})
	if err != nil {
		logger.Printf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := p.Run(ctx); err != nil {
		logger.Printf("Processing failed: %v", err)
		stop()
		os.Exit(1)
	}
}

func parseFlags() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	flag.StringVar(&cfg.InputPath, "input", "data/events.jsonl", "Event log to process (.sz for snappy)")
	flag.StringVar(&cfg.EventType, "event-type", string(types.EventPurchase), "Event type to count")
	flag.IntVar(&cfg.BatchSize, "batch-size", processor.DefaultBatchSize, "Records per batch")
	flag.IntVar(&cfg.Workers, "workers", 0, "Worker pool size (0 = number of CPUs)")
	flag.DurationVar(&cfg.BatchDelay, "batch-delay", processor.DefaultBatchDelay, "Simulated work per batch")
	flag.StringVar(&cfg.OnMalformed, "on-malformed", "fail", "Malformed line policy: fail or skip")
	flag.Parse()
	return cfg
}
