package observability

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestRecordConcurrent tests concurrent Record calls for race conditions.
func TestRecordConcurrent(t *testing.T) {
	stats := NewBatchStats()
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				stats.Record(BatchSample{
					BatchID: int64(id*recordsPerGoroutine + j),
					Size:    50,
					Elapsed: time.Millisecond,
				})
			}
		}(i)
	}

	wg.Wait()

	snap := stats.Snapshot()
	expected := int64(numGoroutines * recordsPerGoroutine)
	if snap.Batches != expected {
		t.Errorf("expected %d batches, got %d", expected, snap.Batches)
	}
	if snap.Records != expected*50 {
		t.Errorf("expected %d records, got %d", expected*50, snap.Records)
	}
	for i, s := range snap.Samples {
		if s.BatchID != int64(i) {
			t.Fatalf("samples not ordered by batch id: index %d has id %d", i, s.BatchID)
		}
	}
}

// TestSnapshotAggregates tests min, max, average and slow counts.
func TestSnapshotAggregates(t *testing.T) {
	stats := NewBatchStats()
	stats.Record(BatchSample{BatchID: 2, Size: 30, Elapsed: 3 * time.Second})
	stats.Record(BatchSample{BatchID: 0, Size: 50, Elapsed: 1 * time.Second})
	stats.Record(BatchSample{BatchID: 1, Size: 50, Elapsed: 8 * time.Second, Slow: true})

	snap := stats.Snapshot()
	if snap.Batches != 3 || snap.Records != 130 || snap.Slow != 1 {
		t.Errorf("unexpected counts: %+v", snap)
	}
	if snap.MinElapsed != time.Second {
		t.Errorf("expected min 1s, got %v", snap.MinElapsed)
	}
	if snap.MaxElapsed != 8*time.Second {
		t.Errorf("expected max 8s, got %v", snap.MaxElapsed)
	}
	if snap.AvgElapsed != 4*time.Second {
		t.Errorf("expected avg 4s, got %v", snap.AvgElapsed)
	}
	if snap.Samples[0].BatchID != 0 || snap.Samples[2].BatchID != 2 {
		t.Errorf("samples not ordered: %+v", snap.Samples)
	}
}

// TestSnapshotIsACopy tests that a snapshot is unaffected by later records.
func TestSnapshotIsACopy(t *testing.T) {
	stats := NewBatchStats()
	stats.Record(BatchSample{BatchID: 0, Size: 1, Elapsed: time.Millisecond})

	snap := stats.Snapshot()
	snap.Samples[0].Size = 99
	stats.Record(BatchSample{BatchID: 1, Size: 1, Elapsed: time.Millisecond})

	if len(snap.Samples) != 1 {
		t.Errorf("snapshot grew to %d samples", len(snap.Samples))
	}
	if stats.Snapshot().Samples[0].Size != 1 {
		t.Error("mutating a snapshot changed the tracker")
	}
}

// TestSnapshotEmpty tests Snapshot with no data.
func TestSnapshotEmpty(t *testing.T) {
	snap := NewBatchStats().Snapshot()
	if snap.Batches != 0 || snap.AvgElapsed != 0 || len(snap.Samples) != 0 {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
}

// TestSlowestOrdering tests that Slowest returns results sorted by elapsed time.
func TestSlowestOrdering(t *testing.T) {
	stats := NewBatchStats()
	stats.Record(BatchSample{BatchID: 0, Elapsed: 2 * time.Second})
	stats.Record(BatchSample{BatchID: 1, Elapsed: 9 * time.Second})
	stats.Record(BatchSample{BatchID: 2, Elapsed: 5 * time.Second})

	top := stats.Slowest(2)
	if len(top) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(top))
	}
	if top[0].BatchID != 1 || top[1].BatchID != 2 {
		t.Errorf("expected batches 1 then 2, got %d then %d", top[0].BatchID, top[1].BatchID)
	}

	if got := stats.Slowest(100); len(got) != 3 {
		t.Errorf("expected 3 samples when n exceeds data, got %d", len(got))
	}
	if got := stats.Slowest(0); len(got) != 0 {
		t.Errorf("expected no samples for n=0, got %d", len(got))
	}
}

func TestLogFinished(t *testing.T) {
	tests := []struct {
		name      string
		elapsed   time.Duration
		threshold time.Duration
		slow      bool
	}{
		{"fast", 1500 * time.Millisecond, 5 * time.Second, false},
		{"slow", 6 * time.Second, 5 * time.Second, true},
		{"at threshold", 5 * time.Second, 5 * time.Second, false},
		{"no threshold", time.Hour, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			slow := LogFinished(log.New(&buf, "", 0), "batch 3 (50 records)", tt.elapsed, tt.threshold)

			if slow != tt.slow {
				t.Errorf("slow = %v, want %v", slow, tt.slow)
			}
			line := strings.TrimSpace(buf.String())
			if !strings.HasPrefix(line, "Finished batch 3 (50 records) in ") {
				t.Errorf("unexpected line %q", line)
			}
			if strings.HasSuffix(line, " (too slow)") != tt.slow {
				t.Errorf("slow suffix mismatch in %q", line)
			}
		})
	}

	var buf bytes.Buffer
	LogFinished(log.New(&buf, "", 0), "run", 1500*time.Millisecond, 0)
	if got := strings.TrimSpace(buf.String()); got != "Finished run in 1.500 seconds" {
		t.Errorf("got %q", got)
	}
}

func TestTimed(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	elapsed, slow, err := Timed(logger, "main", time.Millisecond, func() error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed < 10*time.Millisecond {
		t.Errorf("elapsed %v shorter than the work", elapsed)
	}
	if !slow || !strings.Contains(buf.String(), "Finished main in ") || !strings.Contains(buf.String(), "(too slow)") {
		t.Errorf("expected a slow completion line, got slow=%v %q", slow, buf.String())
	}
}

func TestTimed_FailureLogsNothing(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")

	_, slow, err := Timed(log.New(&buf, "", 0), "main", time.Hour, func() error {
		return boom
	})

	if !errors.Is(err, boom) {
		t.Errorf("expected fn error to be returned, got %v", err)
	}
	if slow {
		t.Error("failed call flagged slow")
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected log output: %q", buf.String())
	}
}
