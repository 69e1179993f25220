package storage

import (
	"cmp"
	"context"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"

	perrors "github.com/arkilian/eventpipe/internal/errors"
	"golang.org/x/sync/semaphore"
)

// Fetcher copies objects into a local cache directory, at most concurrency
// downloads at a time.
type Fetcher struct {
	storage     ObjectStorage
	concurrency int64
	cacheDir    string
}

// FetchRequest specifies which objects to download.
type FetchRequest struct {
	Keys []string

	// Priority orders downloads, lowest first; empty means all equal
	Priority []int

	// Refresh downloads even when a cached copy exists
	Refresh bool
}

// FetchResult contains the outcome of a fetch.
type FetchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int

	mu sync.Mutex
}

func (r *FetchResult) done(key, local string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.Errors[key] = err
		return
	}
	r.LocalPaths[key] = local
	r.Downloads++
}

type fetchJob struct {
	key      string
	local    string
	priority int
}

// NewFetcher creates a fetcher. concurrency <= 0 means one download at a time.
func NewFetcher(storage ObjectStorage, concurrency int, cacheDir string) *Fetcher {
	return &Fetcher{
		storage:     storage,
		concurrency: int64(max(concurrency, 1)),
		cacheDir:    cacheDir,
	}
}

// Fetch downloads the requested objects. Per-object failures are reported
// in the result; the returned error covers malformed requests only.
func (f *Fetcher) Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error) {
	if len(req.Priority) != 0 && len(req.Priority) != len(req.Keys) {
		return nil, perrors.NewValidationError(perrors.CodeInvalidConfig,
			"priority array length must match key count")
	}

	result := &FetchResult{
		LocalPaths: make(map[string]string, len(req.Keys)),
		Errors:     make(map[string]error),
	}

	jobs := f.plan(req, result)
	sem := semaphore.NewWeighted(f.concurrency)
	var wg sync.WaitGroup
	for _, job := range jobs {
		if err := sem.Acquire(ctx, 1); err != nil {
			result.done(job.key, "", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			result.done(job.key, job.local, f.storage.Download(ctx, job.key, job.local))
		}()
	}
	wg.Wait()
	return result, nil
}

// plan orders the keys by priority and records cache hits in result. It
// returns the downloads still needed.
func (f *Fetcher) plan(req *FetchRequest, result *FetchResult) []fetchJob {
	jobs := make([]fetchJob, 0, len(req.Keys))
	for i, key := range req.Keys {
		job := fetchJob{key: key, local: f.LocalPath(key)}
		if len(req.Priority) > 0 {
			job.priority = req.Priority[i]
		}
		jobs = append(jobs, job)
	}
	slices.SortStableFunc(jobs, func(a, b fetchJob) int {
		return cmp.Compare(a.priority, b.priority)
	})

	if req.Refresh {
		return jobs
	}
	return slices.DeleteFunc(jobs, func(job fetchJob) bool {
		if _, err := os.Stat(job.local); err != nil {
			return false
		}
		result.LocalPaths[job.key] = job.local
		result.CacheHits++
		return true
	})
}

// FetchOne downloads a single object and returns its local path.
func (f *Fetcher) FetchOne(ctx context.Context, key string, refresh bool) (string, error) {
	result, err := f.Fetch(ctx, &FetchRequest{Keys: []string{key}, Refresh: refresh})
	if err != nil {
		return "", err
	}
	if err := result.Errors[key]; err != nil {
		return "", err
	}
	return result.LocalPaths[key], nil
}

// LocalPath returns the cache location for key. The key keeps its directory
// structure but cannot escape the cache directory.
func (f *Fetcher) LocalPath(key string) string {
	clean := path.Clean("/" + key)
	return filepath.Join(f.cacheDir, filepath.FromSlash(clean))
}
