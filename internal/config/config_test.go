package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	perrors "github.com/arkilian/eventpipe/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()

	assert.Equal(t, 5_000_000, cfg.Generator.Count)
	assert.Equal(t, 30*24*time.Hour, cfg.Generator.Window)
	assert.Equal(t, filepath.Join("data", "events.jsonl"), filepath.Clean(cfg.Generator.OutputPath))
	assert.Equal(t, cfg.Generator.OutputPath, cfg.Processor.InputPath)
	assert.Equal(t, "purchase", cfg.Processor.EventType)
	assert.Equal(t, 50_000, cfg.Processor.BatchSize)
	assert.Equal(t, 0, cfg.Processor.WorkerCount)
	assert.Equal(t, 3*time.Second, cfg.Processor.BatchDelay)
	assert.Equal(t, 5*time.Second, cfg.Processor.SlowBatch)
	assert.Equal(t, MalformedFail, cfg.Processor.OnMalformed)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveBatchSize(t *testing.T) {
	for _, size := range []int{0, -1, -50_000} {
		cfg := DefaultConfig()
		cfg.Resolve()
		cfg.Processor.BatchSize = size

		err := cfg.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, perrors.ErrInvalidBatchSize), "size %d: %v", size, err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "serve" }},
		{"negative count", func(c *Config) { c.Generator.Count = -1 }},
		{"zero window", func(c *Config) { c.Generator.Window = 0 }},
		{"negative workers", func(c *Config) { c.Processor.WorkerCount = -2 }},
		{"unknown event type", func(c *Config) { c.Processor.EventType = "signup" }},
		{"bad malformed policy", func(c *Config) { c.Processor.OnMalformed = "ignore" }},
		{"bad storage", func(c *Config) { c.Storage.Type = "gcs" }},
		{"negative fetch concurrency", func(c *Config) { c.Storage.FetchConcurrency = -1 }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = StorageS3 }},
		{"publish without storage", func(c *Config) { c.Generator.Publish = true }},
		{"object input without storage", func(c *Config) { c.Processor.InputPath = StorageScheme + "datasets/events.jsonl" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, perrors.ErrCategoryValidation, perrors.GetCategory(err))
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventpipe.yaml")
	content := `
mode: process
data_dir: /tmp/eventpipe
processor:
  event_type: refund
  batch_size: 250
  worker_count: 3
  batch_delay: 10ms
  on_malformed: skip
ledger:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, ModeProcess, cfg.Mode)
	assert.Equal(t, "refund", cfg.Processor.EventType)
	assert.Equal(t, 250, cfg.Processor.BatchSize)
	assert.Equal(t, 3, cfg.Processor.WorkerCount)
	assert.Equal(t, 10*time.Millisecond, cfg.Processor.BatchDelay)
	assert.Equal(t, MalformedSkip, cfg.Processor.OnMalformed)
	assert.True(t, cfg.Ledger.Enabled)
	// Untouched fields keep their defaults
	assert.Equal(t, 5_000_000, cfg.Generator.Count)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventpipe.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mode":"generate","generator":{"count":1000,"seed":7}}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ModeGenerate, cfg.Mode)
	assert.Equal(t, 1000, cfg.Generator.Count)
	assert.Equal(t, uint64(7), cfg.Generator.Seed)
}

func TestLoadFromFile_JSONDurations(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "strings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"generator": {"window": "72h", "count": 10},
		"processor": {"batch_delay": "250ms", "slow_batch": "2s", "slow_run": 1000000000, "batch_size": 64}
	}`), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, cfg.Generator.Window)
	assert.Equal(t, 10, cfg.Generator.Count)
	assert.Equal(t, 250*time.Millisecond, cfg.Processor.BatchDelay)
	assert.Equal(t, 2*time.Second, cfg.Processor.SlowBatch)
	assert.Equal(t, time.Second, cfg.Processor.SlowRun)
	assert.Equal(t, 64, cfg.Processor.BatchSize)
	// Fields absent from the file keep their defaults
	assert.Equal(t, DefaultConfig().Processor.OnMalformed, cfg.Processor.OnMalformed)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"processor": {"batch_delay": "soon"}}`), 0644))
	_, err = LoadFromFile(bad)
	assert.ErrorContains(t, err, "soon")
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventpipe.toml")
	require.NoError(t, os.WriteFile(path, []byte("mode = 'all'"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EVENTPIPE_MODE", "process")
	t.Setenv("EVENTPIPE_BATCH_SIZE", "128")
	t.Setenv("EVENTPIPE_WORKER_COUNT", "6")
	t.Setenv("EVENTPIPE_EVENT_TYPE", "click")
	t.Setenv("EVENTPIPE_BATCH_DELAY", "250ms")
	t.Setenv("EVENTPIPE_SEED", "99")
	t.Setenv("EVENTPIPE_LEDGER_ENABLED", "1")
	t.Setenv("EVENTPIPE_STORAGE_TYPE", "local")
	t.Setenv("EVENTPIPE_FETCH_CONCURRENCY", "8")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, ModeProcess, cfg.Mode)
	assert.Equal(t, 128, cfg.Processor.BatchSize)
	assert.Equal(t, 6, cfg.Processor.WorkerCount)
	assert.Equal(t, "click", cfg.Processor.EventType)
	assert.Equal(t, 250*time.Millisecond, cfg.Processor.BatchDelay)
	assert.Equal(t, uint64(99), cfg.Generator.Seed)
	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, StorageLocal, cfg.Storage.Type)
	assert.Equal(t, 8, cfg.Storage.FetchConcurrency)
}

func TestLoadFromEnv_RejectsGarbage(t *testing.T) {
	t.Setenv("EVENTPIPE_BATCH_SIZE", "abc")
	t.Setenv("EVENTPIPE_BATCH_DELAY", "soon")
	t.Setenv("EVENTPIPE_SEED", "-1")
	t.Setenv("EVENTPIPE_EVENT_TYPE", "refund")

	cfg := DefaultConfig()
	err := LoadFromEnv(cfg)
	require.Error(t, err)
	assert.Equal(t, perrors.ErrCategoryValidation, perrors.GetCategory(err))
	assert.Equal(t, perrors.CodeInvalidConfig, perrors.GetCode(err))
	assert.Contains(t, err.Error(), `EVENTPIPE_BATCH_SIZE="abc"`)
	assert.Contains(t, err.Error(), `EVENTPIPE_BATCH_DELAY="soon"`)
	assert.Contains(t, err.Error(), `EVENTPIPE_SEED="-1"`)

	// Unparseable values leave the field alone; valid ones still apply
	assert.Equal(t, 50_000, cfg.Processor.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Processor.BatchDelay)
	assert.Equal(t, "refund", cfg.Processor.EventType)
}

func TestResolveAndEnsureDirectories(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", "data")

	cfg := DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Ledger.Enabled = true
	cfg.Storage.Type = StorageLocal
	cfg.Resolve()

	assert.Equal(t, filepath.Join(dataDir, "events.jsonl"), cfg.Generator.OutputPath)
	assert.Equal(t, filepath.Join(dataDir, "ledger.db"), cfg.Ledger.Path)
	assert.Equal(t, filepath.Join(dataDir, "storage"), cfg.Storage.Path)

	require.NoError(t, cfg.EnsureDirectories())
	for _, dir := range []string{dataDir, cfg.Storage.Path, cfg.Storage.CacheDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestModeSelection(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.ShouldRunGenerate())
	assert.True(t, cfg.ShouldRunProcess())
	assert.False(t, cfg.ShouldRunVerify())

	cfg.Mode = ModeVerify
	assert.False(t, cfg.ShouldRunGenerate())
	assert.False(t, cfg.ShouldRunProcess())
	assert.True(t, cfg.ShouldRunVerify())
}
