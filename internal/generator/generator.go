// Package generator produces synthetic event logs.
package generator

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"time"

	"github.com/arkilian/eventpipe/internal/dataset"
	perrors "github.com/arkilian/eventpipe/internal/errors"
	"github.com/arkilian/eventpipe/pkg/types"
	"github.com/google/uuid"
)

// DefaultWindow is the span of generated timestamps.
const DefaultWindow = 30 * 24 * time.Hour

// cancelCheckInterval is how many records are written between context checks.
const cancelCheckInterval = 8192

// Config holds generator configuration.
type Config struct {
	// Window is the timestamp span ending at generation time (default: 30 days)
	Window time.Duration

	// Seed makes output reproducible; 0 seeds from crypto/rand
	Seed uint64

	// Now returns the end of the timestamp window (default: time.Now)
	Now func() time.Time
}

// Result describes a generated dataset file.
type Result struct {
	Path        string
	Count       int
	SizeBytes   int64
	Seed        uint64
	WindowStart time.Time
	WindowEnd   time.Time
	Elapsed     time.Duration
}

// Generator creates random events. It is not safe for concurrent use.
type Generator struct {
	window time.Duration
	seed   uint64
	now    func() time.Time
	src    *rand.ChaCha8
	rng    *rand.Rand
	logger *log.Logger

	// cumulative holds the running sum of types.EventTypeWeights
	cumulative []float64
}

// New creates a generator. A nil logger discards output.
func New(cfg Config, logger *log.Logger) *Generator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var seed [32]byte
	if cfg.Seed != 0 {
		binary.LittleEndian.PutUint64(seed[:8], cfg.Seed)
	} else {
		// crypto/rand.Read never returns an error on supported platforms
		_, _ = crand.Read(seed[:])
	}
	src := rand.NewChaCha8(seed)

	cumulative := make([]float64, len(types.EventTypeWeights))
	var sum float64
	for i, w := range types.EventTypeWeights {
		sum += w
		cumulative[i] = sum
	}

	return &Generator{
		window:     cfg.Window,
		seed:       cfg.Seed,
		now:        cfg.Now,
		src:        src,
		rng:        rand.New(src),
		logger:     logger,
		cumulative: cumulative,
	}
}

// bounds returns the timestamp window, whole seconds, ending now.
func (g *Generator) bounds() (time.Time, time.Time) {
	end := g.now().UTC()
	start := end.Add(-g.window).Truncate(time.Second)
	return start, end
}

// Event generates a single record with a timestamp in the window ending now.
func (g *Generator) Event() types.Event {
	start, end := g.bounds()
	return g.event(start, end)
}

func (g *Generator) event(start, end time.Time) types.Event {
	eventType := g.pickEventType()

	var price float64
	if eventType.Priced() {
		// Whole cents keep the price at two decimal places
		cents := int(types.MinPrice*100) + g.rng.IntN(int((types.MaxPrice-types.MinPrice)*100)+1)
		price = float64(cents) / 100
	}

	return types.Event{
		EventID:   g.newID(),
		EventType: eventType,
		UserID:    types.MinUserID + g.rng.Int64N(types.MaxUserID-types.MinUserID+1),
		Price:     price,
		Currency:  types.Currencies[g.rng.IntN(len(types.Currencies))],
		Ts:        types.FormatTimestamp(g.randomTime(start, end)),
		Source:    types.Sources[g.rng.IntN(len(types.Sources))],
	}
}

func (g *Generator) pickEventType() types.EventType {
	r := g.rng.Float64() * g.cumulative[len(g.cumulative)-1]
	for i, c := range g.cumulative {
		if r < c {
			return types.EventTypes[i]
		}
	}
	return types.EventTypes[len(types.EventTypes)-1]
}

func (g *Generator) randomTime(start, end time.Time) time.Time {
	span := int64(end.Sub(start) / time.Second)
	return start.Add(time.Duration(g.rng.Int64N(span+1)) * time.Second)
}

func (g *Generator) newID() string {
	// Drawing from the seeded stream keeps ids reproducible too
	id, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Generate writes n JSON lines to w in generation order.
// It returns the number of records written.
func (g *Generator) Generate(ctx context.Context, w io.Writer, n int) (int, error) {
	start, end := g.bounds()
	return g.generate(ctx, w, n, start, end)
}

func (g *Generator) generate(ctx context.Context, w io.Writer, n int, start, end time.Time) (int, error) {
	enc := json.NewEncoder(w)

	for i := 0; i < n; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return i, err
			}
		}
		if err := enc.Encode(g.event(start, end)); err != nil {
			return i, perrors.NewIOError(perrors.CodeWriteFailed, fmt.Sprintf("write record %d", i+1), err)
		}
	}
	return n, nil
}

// GenerateFile writes n records to path, creating parent directories and
// replacing any existing file. A .sz path is written snappy compressed.
func (g *Generator) GenerateFile(ctx context.Context, path string, n int) (*Result, error) {
	begin := time.Now()
	start, end := g.bounds()

	w, err := dataset.Create(path)
	if err != nil {
		return nil, perrors.NewIOError(perrors.CodeOpenFailed, "create dataset", err)
	}

	written, genErr := g.generate(ctx, w, n, start, end)
	closeErr := w.Close()
	if genErr != nil {
		return nil, genErr
	}
	if closeErr != nil {
		return nil, perrors.NewIOError(perrors.CodeWriteFailed, "finish dataset", closeErr)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, perrors.NewIOError(perrors.CodeOpenFailed, "stat dataset", err)
	}

	result := &Result{
		Path:        path,
		Count:       written,
		SizeBytes:   info.Size(),
		Seed:        g.seed,
		WindowStart: start,
		WindowEnd:   end,
		Elapsed:     time.Since(begin),
	}
	g.logger.Printf("Generated %d events to %s (%d bytes) in %.3f seconds",
		result.Count, path, result.SizeBytes, result.Elapsed.Seconds())
	return result, nil
}
