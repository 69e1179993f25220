package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arkilian/eventpipe/internal/dataset"
	"github.com/arkilian/eventpipe/pkg/types"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 19, 9, 30, 15, 500_000_000, time.UTC)

func newTestGenerator(seed uint64) *Generator {
	return New(Config{Seed: seed, Now: func() time.Time { return fixedNow }}, nil)
}

func decodeLines(t *testing.T, data []byte) []types.Event {
	t.Helper()
	var events []types.Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var e types.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e), "line %q", scanner.Text())
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestGenerate_WritesExactlyNValidLines(t *testing.T) {
	g := newTestGenerator(42)
	var buf bytes.Buffer

	n, err := g.Generate(context.Background(), &buf, 2_000)
	require.NoError(t, err)
	assert.Equal(t, 2_000, n)
	assert.Equal(t, 2_000, bytes.Count(buf.Bytes(), []byte("\n")))

	windowStart := fixedNow.Add(-DefaultWindow).Truncate(time.Second)
	seen := make(map[string]bool)
	for _, e := range decodeLines(t, buf.Bytes()) {
		require.NoError(t, e.Validate())

		_, err := uuid.Parse(e.EventID)
		assert.NoError(t, err)
		assert.False(t, seen[e.EventID], "duplicate id %s", e.EventID)
		seen[e.EventID] = true

		assert.Equal(t, e.EventType.Priced(), e.Price > 0, "price rule for %+v", e)

		ts, err := e.Time()
		require.NoError(t, err)
		assert.False(t, ts.Before(windowStart), "ts %s before window", e.Ts)
		assert.False(t, ts.After(fixedNow), "ts %s after window", e.Ts)
	}
}

func TestGenerate_SeededRunsAreReproducible(t *testing.T) {
	var a, b, c bytes.Buffer
	ctx := context.Background()

	_, err := newTestGenerator(7).Generate(ctx, &a, 500)
	require.NoError(t, err)
	_, err = newTestGenerator(7).Generate(ctx, &b, 500)
	require.NoError(t, err)
	_, err = newTestGenerator(8).Generate(ctx, &c, 500)
	require.NoError(t, err)

	assert.Equal(t, a.String(), b.String())
	assert.NotEqual(t, a.String(), c.String())
}

func TestGenerate_UnseededRunsDiffer(t *testing.T) {
	var a, b bytes.Buffer
	ctx := context.Background()

	_, err := newTestGenerator(0).Generate(ctx, &a, 50)
	require.NoError(t, err)
	_, err = newTestGenerator(0).Generate(ctx, &b, 50)
	require.NoError(t, err)

	assert.NotEqual(t, a.String(), b.String())
}

func TestGenerate_EventTypeDistribution(t *testing.T) {
	g := newTestGenerator(1234)
	counts := make(map[types.EventType]int)

	const n = 100_000
	for i := 0; i < n; i++ {
		counts[g.Event().EventType]++
	}

	for i, et := range types.EventTypes {
		got := float64(counts[et]) / n
		assert.InDelta(t, types.EventTypeWeights[i], got, 0.01, "share of %s", et)
	}
}

func TestGenerate_HonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	n, err := newTestGenerator(3).Generate(ctx, &buf, 100)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
	assert.Zero(t, buf.Len())
}

func TestGenerateFile_CreatesDirectoriesAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "events.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("stale\n"), 10_000), 0644))

	result, err := newTestGenerator(11).GenerateFile(context.Background(), path, 25)
	require.NoError(t, err)
	assert.Equal(t, 25, result.Count)
	assert.Equal(t, uint64(11), result.Seed)
	assert.Equal(t, fixedNow, result.WindowEnd)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), result.SizeBytes)
	assert.Len(t, decodeLines(t, data), 25)
}

func TestGenerateFile_Snappy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl.sz")

	result, err := newTestGenerator(5).GenerateFile(context.Background(), path, 300)
	require.NoError(t, err)
	assert.Equal(t, 300, result.Count)

	r, err := dataset.Open(path)
	require.NoError(t, err)
	defer r.Close()

	var plain bytes.Buffer
	_, err = plain.ReadFrom(r)
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, plain.Bytes()), 300)

	var direct bytes.Buffer
	_, err = newTestGenerator(5).Generate(context.Background(), &direct, 300)
	require.NoError(t, err)
	assert.Equal(t, direct.String(), plain.String())
}

func TestProperty_GeneratedRecordsSatisfyDataModel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("N records yield N valid lines inside the window", prop.ForAll(
		func(seed uint64, n int, windowHours int) bool {
			window := time.Duration(windowHours) * time.Hour
			g := New(Config{Seed: seed, Window: window, Now: func() time.Time { return fixedNow }}, nil)

			var buf bytes.Buffer
			written, err := g.Generate(context.Background(), &buf, n)
			if err != nil || written != n {
				return false
			}

			start := fixedNow.Add(-window).Truncate(time.Second)
			lines := 0
			scanner := bufio.NewScanner(&buf)
			for scanner.Scan() {
				lines++
				var e types.Event
				if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
					return false
				}
				if e.Validate() != nil {
					return false
				}
				if (e.Price > 0) != e.EventType.Priced() {
					return false
				}
				ts, err := e.Time()
				if err != nil || ts.Before(start) || ts.After(fixedNow) {
					return false
				}
			}
			return lines == n
		},
		gen.UInt64Range(1, 1<<40),
		gen.IntRange(0, 200),
		gen.IntRange(1, 24*60),
	))

	properties.TestingRun(t)
}
