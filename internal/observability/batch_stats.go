// Package observability provides batch timing statistics and elapsed-time logging.
package observability

import (
	"log"
	"sort"
	"sync"
	"time"
)

// BatchSample is the timing of one completed batch.
type BatchSample struct {
	BatchID int64
	Size    int
	Elapsed time.Duration
	Slow    bool
}

// Snapshot is a point-in-time copy of BatchStats.
type Snapshot struct {
	Batches int64
	Records int64
	Slow    int64

	MinElapsed   time.Duration
	MaxElapsed   time.Duration
	AvgElapsed   time.Duration
	TotalElapsed time.Duration

	// Samples are ordered by batch id
	Samples []BatchSample
}

// BatchStats aggregates batch timings. It is safe for concurrent use.
type BatchStats struct {
	mu      sync.RWMutex
	samples []BatchSample
	records int64
	slow    int64
	total   time.Duration
	min     time.Duration
	max     time.Duration
}

// NewBatchStats creates an empty tracker.
func NewBatchStats() *BatchStats {
	return &BatchStats{}
}

// Record adds a completed batch. This method is O(1) amortized and thread-safe.
func (s *BatchStats) Record(sample BatchSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) == 0 || sample.Elapsed < s.min {
		s.min = sample.Elapsed
	}
	if sample.Elapsed > s.max {
		s.max = sample.Elapsed
	}
	if sample.Slow {
		s.slow++
	}
	s.records += int64(sample.Size)
	s.total += sample.Elapsed
	s.samples = append(s.samples, sample)
}

// Snapshot returns a copy of the current statistics.
func (s *BatchStats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Batches:      int64(len(s.samples)),
		Records:      s.records,
		Slow:         s.slow,
		MinElapsed:   s.min,
		MaxElapsed:   s.max,
		TotalElapsed: s.total,
		Samples:      make([]BatchSample, len(s.samples)),
	}
	if snap.Batches > 0 {
		snap.AvgElapsed = s.total / time.Duration(snap.Batches)
	}

	copy(snap.Samples, s.samples)
	sort.Slice(snap.Samples, func(i, j int) bool {
		return snap.Samples[i].BatchID < snap.Samples[j].BatchID
	})
	return snap
}

// Slowest returns the n slowest batches, slowest first.
func (s *BatchStats) Slowest(n int) []BatchSample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.samples) == 0 {
		return []BatchSample{}
	}

	samples := make([]BatchSample, len(s.samples))
	copy(samples, s.samples)
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Elapsed > samples[j].Elapsed
	})

	if n > len(samples) {
		n = len(samples)
	}
	return samples[:n]
}

// LogFinished writes the completion line for an operation. Operations slower
// than threshold are flagged; a zero threshold disables the flag.
// It reports whether the operation was flagged.
func LogFinished(logger *log.Logger, name string, elapsed, threshold time.Duration) bool {
	slow := threshold > 0 && elapsed > threshold
	suffix := ""
	if slow {
		suffix = " (too slow)"
	}
	logger.Printf("Finished %s in %.3f seconds%s", name, elapsed.Seconds(), suffix)
	return slow
}

// Timed runs fn and, when it succeeds, writes its completion line under
// name. A failed fn logs nothing here; the caller reports the failure.
// It returns the elapsed time and whether the operation was flagged slow.
func Timed(logger *log.Logger, name string, threshold time.Duration, fn func() error) (time.Duration, bool, error) {
	start := time.Now()
	if err := fn(); err != nil {
		return time.Since(start), false, err
	}
	elapsed := time.Since(start)
	return elapsed, LogFinished(logger, name, elapsed, threshold), nil
}
