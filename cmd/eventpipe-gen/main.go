// Package main implements the eventpipe-gen binary.
// It writes a synthetic event log of N JSON lines.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arkilian/eventpipe/internal/generator"
	"github.com/joho/godotenv"
)

// Config holds the binary configuration.
type Config struct {
	OutputPath string
	Count      int
	Seed       uint64
	Window     time.Duration
}

func main() {
	cfg := parseFlags()
	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	logger.Printf("Generating %d events to %s", cfg.Count, cfg.OutputPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g := generator.New(generator.Config{Seed: cfg.Seed, Window: cfg.Window}, logger)
	if _, err := g.GenerateFile(ctx, cfg.OutputPath, cfg.Count); err != nil {
		logger.Printf("Generation failed: %v", err)
		stop()
		os.Exit(1)
	}
}

func parseFlags() *Config {
	_ = godotenv.Load()

	cfg := &Config{}
	flag.StringVar(&cfg.OutputPath, "output", "data/events.jsonl", "Output file (.sz for snappy)")
	flag.IntVar(&cfg.Count, "count", 5_000_000, "Number of records")
	flag.Uint64Var(&cfg.Seed, "seed", 0, "Seed for reproducible output (0 = random)")
	flag.DurationVar(&cfg.Window, "window", generator.DefaultWindow, "Timestamp window ending now")
	flag.Parse()

	if cfg.Count < 0 {
		log.Fatalf("count must not be negative, got %d", cfg.Count)
	}
	return cfg
}
