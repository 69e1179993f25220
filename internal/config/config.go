// Package config provides unified configuration for the generator and the batch processor.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	perrors "github.com/arkilian/eventpipe/internal/errors"
	"github.com/arkilian/eventpipe/pkg/types"
	"gopkg.in/yaml.v3"
)

// Mode represents the job(s) to run.
type Mode string

const (
	ModeAll      Mode = "all"
	ModeGenerate Mode = "generate"
	ModeProcess  Mode = "process"
	ModeVerify   Mode = "verify"
)

// Malformed record policies.
const (
	MalformedFail = "fail"
	MalformedSkip = "skip"
)

// Storage types.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageS3    = "s3"
)

// StorageScheme prefixes an input path that names an object in storage
// instead of a local file.
const StorageScheme = "storage://"

// Config holds the unified configuration for all jobs.
type Config struct {
	// Mode specifies which jobs to run: all, generate, process, verify
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for dataset, cache and ledger files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Generator GeneratorConfig `json:"generator" yaml:"generator"`

	Processor ProcessorConfig `json:"processor" yaml:"processor"`

	Verify VerifyConfig `json:"verify" yaml:"verify"`

	Ledger LedgerConfig `json:"ledger" yaml:"ledger"`

	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// GeneratorConfig holds event generator configuration.
type GeneratorConfig struct {
	// OutputPath is the dataset file; a .sz suffix selects snappy compression
	OutputPath string `json:"output_path" yaml:"output_path"`

	// Count is the number of records to generate
	Count int `json:"count" yaml:"count"`

	// Seed makes generation reproducible; 0 means unseeded
	Seed uint64 `json:"seed" yaml:"seed"`

	// Window is the span of event timestamps, ending at generation time
	Window time.Duration `json:"window" yaml:"window"`

	// Publish uploads the dataset to object storage after generation
	Publish bool `json:"publish" yaml:"publish"`
}

// ProcessorConfig holds batch processor configuration.
type ProcessorConfig struct {
	// InputPath is a local dataset file or storage://<object key>
	InputPath string `json:"input_path" yaml:"input_path"`

	// EventType is the event_type kept by the filter stage
	EventType string `json:"event_type" yaml:"event_type"`

	// BatchSize is the number of records per batch (must be positive)
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// WorkerCount is the pool size; 0 means host parallelism
	WorkerCount int `json:"worker_count" yaml:"worker_count"`

	// BatchDelay is the simulated per-batch work duration
	BatchDelay time.Duration `json:"batch_delay" yaml:"batch_delay"`

	// SlowBatch flags batch completion logs above this duration
	SlowBatch time.Duration `json:"slow_batch" yaml:"slow_batch"`

	// SlowRun flags the run completion log above this duration
	SlowRun time.Duration `json:"slow_run" yaml:"slow_run"`

	// OnMalformed is fail (abort the run) or skip (log and continue)
	OnMalformed string `json:"on_malformed" yaml:"on_malformed"`
}

// VerifyConfig holds dataset verification configuration.
type VerifyConfig struct {
	// Path is the dataset to verify (defaults to the generator output)
	Path string `json:"path" yaml:"path"`
}

// LedgerConfig holds run ledger configuration.
type LedgerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file
	Path string `json:"path" yaml:"path"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage root (for local type)
	Path string `json:"path" yaml:"path"`

	// CacheDir receives objects downloaded for processing
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// FetchConcurrency bounds parallel downloads of a storage:// prefix input
	FetchConcurrency int `json:"fetch_concurrency" yaml:"fetch_concurrency"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO, LocalStack)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data",
		Generator: GeneratorConfig{
			Count:  5_000_000,
			Window: 30 * 24 * time.Hour,
		},
		Processor: ProcessorConfig{
			EventType:   string(types.EventPurchase),
			BatchSize:   50_000,
			WorkerCount: 0,
			BatchDelay:  3 * time.Second,
			SlowBatch:   5 * time.Second,
			SlowRun:     20 * time.Second,
			OnMalformed: MalformedFail,
		},
		Storage: StorageConfig{
			Type:             StorageNone,
			FetchConcurrency: 4,
		},
	}
}

// Resolve fills derived paths from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}

	if c.Generator.OutputPath == "" {
		c.Generator.OutputPath = filepath.Join(c.DataDir, "events.jsonl")
	}

	// The processor reads what the generator wrote unless told otherwise
	if c.Processor.InputPath == "" {
		c.Processor.InputPath = c.Generator.OutputPath
	}

	if c.Verify.Path == "" {
		c.Verify.Path = c.Generator.OutputPath
	}

	if c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(c.DataDir, "ledger.db")
	}

	if c.Storage.Type == "" {
		c.Storage.Type = StorageNone
	}
	if c.Storage.Type == StorageLocal && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Storage.CacheDir == "" {
		c.Storage.CacheDir = filepath.Join(c.DataDir, "cache")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeGenerate, ModeProcess, ModeVerify:
		// Valid modes
	default:
		return invalid("invalid mode: %s (must be all, generate, process, or verify)", c.Mode)
	}

	if c.DataDir == "" {
		return invalid("data_dir is required")
	}

	if c.Generator.Count < 0 {
		return invalid("generator.count must not be negative, got %d", c.Generator.Count)
	}
	if c.Generator.Window <= 0 {
		return invalid("generator.window must be positive, got %v", c.Generator.Window)
	}

	if c.Processor.BatchSize <= 0 {
		return perrors.NewValidationError(perrors.CodeInvalidBatchSize,
			fmt.Sprintf("processor.batch_size must be a positive integer, got %d", c.Processor.BatchSize))
	}
	if c.Processor.WorkerCount < 0 {
		return invalid("processor.worker_count must not be negative, got %d", c.Processor.WorkerCount)
	}
	if !types.EventType(c.Processor.EventType).Valid() {
		return invalid("processor.event_type %q is not one of view, click, purchase, refund", c.Processor.EventType)
	}
	if c.Processor.BatchDelay < 0 {
		return invalid("processor.batch_delay must not be negative, got %v", c.Processor.BatchDelay)
	}
	if c.Processor.OnMalformed != MalformedFail && c.Processor.OnMalformed != MalformedSkip {
		return invalid("processor.on_malformed must be fail or skip, got %q", c.Processor.OnMalformed)
	}

	switch c.Storage.Type {
	case StorageNone, StorageLocal, StorageS3:
	default:
		return invalid("invalid storage type: %s (must be none, local or s3)", c.Storage.Type)
	}
	if c.Storage.FetchConcurrency < 0 {
		return invalid("storage.fetch_concurrency must not be negative, got %d", c.Storage.FetchConcurrency)
	}
	if c.Storage.Type == StorageS3 && c.Storage.S3.Bucket == "" {
		return invalid("s3.bucket is required when storage type is s3")
	}
	if c.Generator.Publish && c.Storage.Type == StorageNone {
		return invalid("generator.publish requires a storage type")
	}
	if strings.HasPrefix(c.Processor.InputPath, StorageScheme) && c.Storage.Type == StorageNone {
		return invalid("processor.input_path %s requires a storage type", c.Processor.InputPath)
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return perrors.NewValidationError(perrors.CodeInvalidConfig, fmt.Sprintf(format, args...))
}

// ShouldRunGenerate returns true if the generator should run.
func (c *Config) ShouldRunGenerate() bool {
	return c.Mode == ModeAll || c.Mode == ModeGenerate
}

// ShouldRunProcess returns true if the batch processor should run.
func (c *Config) ShouldRunProcess() bool {
	return c.Mode == ModeAll || c.Mode == ModeProcess
}

// ShouldRunVerify returns true if the dataset verifier should run.
func (c *Config) ShouldRunVerify() bool {
	return c.Mode == ModeVerify
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the EVENTPIPE_ prefix. Numeric and duration
// values that do not parse are reported together as one validation error;
// every other variable is still applied.
func LoadFromEnv(cfg *Config) error {
	var env envReader
	if v := os.Getenv("EVENTPIPE_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("EVENTPIPE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Generator configuration
	if v := os.Getenv("EVENTPIPE_OUTPUT_PATH"); v != "" {
		cfg.Generator.OutputPath = v
	}
	env.int("EVENTPIPE_COUNT", &cfg.Generator.Count)
	env.uint64("EVENTPIPE_SEED", &cfg.Generator.Seed)
	env.duration("EVENTPIPE_WINDOW", &cfg.Generator.Window)
	if v := os.Getenv("EVENTPIPE_PUBLISH"); v != "" {
		cfg.Generator.Publish = v == "true" || v == "1"
	}

	// Processor configuration
	if v := os.Getenv("EVENTPIPE_INPUT_PATH"); v != "" {
		cfg.Processor.InputPath = v
	}
	if v := os.Getenv("EVENTPIPE_EVENT_TYPE"); v != "" {
		cfg.Processor.EventType = v
	}
	env.int("EVENTPIPE_BATCH_SIZE", &cfg.Processor.BatchSize)
	env.int("EVENTPIPE_WORKER_COUNT", &cfg.Processor.WorkerCount)
	env.duration("EVENTPIPE_BATCH_DELAY", &cfg.Processor.BatchDelay)
	env.duration("EVENTPIPE_SLOW_BATCH", &cfg.Processor.SlowBatch)
	env.duration("EVENTPIPE_SLOW_RUN", &cfg.Processor.SlowRun)
	if v := os.Getenv("EVENTPIPE_ON_MALFORMED"); v != "" {
		cfg.Processor.OnMalformed = v
	}

	if v := os.Getenv("EVENTPIPE_VERIFY_PATH"); v != "" {
		cfg.Verify.Path = v
	}

	// Ledger configuration
	if v := os.Getenv("EVENTPIPE_LEDGER_ENABLED"); v != "" {
		cfg.Ledger.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("EVENTPIPE_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}

	// Storage configuration
	if v := os.Getenv("EVENTPIPE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("EVENTPIPE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	env.int("EVENTPIPE_FETCH_CONCURRENCY", &cfg.Storage.FetchConcurrency)
	if v := os.Getenv("EVENTPIPE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("EVENTPIPE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("EVENTPIPE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("EVENTPIPE_S3_USE_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}

	return env.err()
}

// envReader parses typed environment variables and remembers the ones
// that did not parse.
type envReader struct {
	bad []string
}

func (e *envReader) lookup(key string, parse func(string) error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if err := parse(v); err != nil {
		e.bad = append(e.bad, fmt.Sprintf("%s=%q", key, v))
	}
}

func (e *envReader) int(key string, dst *int) {
	e.lookup(key, func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			*dst = n
		}
		return err
	})
}

func (e *envReader) uint64(key string, dst *uint64) {
	e.lookup(key, func(v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err == nil {
			*dst = n
		}
		return err
	})
}

func (e *envReader) duration(key string, dst *time.Duration) {
	e.lookup(key, func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			*dst = d
		}
		return err
	})
}

func (e *envReader) err() error {
	if len(e.bad) == 0 {
		return nil
	}
	return invalid("unparseable environment variables: %s", strings.Join(e.bad, ", "))
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.Generator.OutputPath),
		c.Storage.CacheDir,
	}
	if c.Ledger.Enabled {
		dirs = append(dirs, filepath.Dir(c.Ledger.Path))
	}
	if c.Storage.Type == StorageLocal {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
