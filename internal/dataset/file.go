// Package dataset reads, writes and verifies line-delimited event files.
package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
)

// SnappyExt marks a dataset stored as a snappy framed stream.
const SnappyExt = ".sz"

const writeBufferSize = 1 << 20

// IsCompressed reports whether path selects the snappy codec.
func IsCompressed(path string) bool {
	return strings.EqualFold(filepath.Ext(path), SnappyExt)
}

// Create opens path for writing, creating parent directories and truncating
// any existing file. Writes are buffered; Close flushes before closing.
func Create(path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("dataset: failed to create directory %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to create %s: %w", path, err)
	}

	if IsCompressed(path) {
		return &writer{w: snappy.NewBufferedWriter(f), f: f}, nil
	}
	return &writer{w: bufio.NewWriterSize(f, writeBufferSize), f: f}, nil
}

type flushWriter interface {
	io.Writer
	Flush() error
}

type writer struct {
	w flushWriter
	f *os.File
}

func (w *writer) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

func (w *writer) Close() error {
	flushErr := w.w.Flush()
	if sw, ok := w.w.(*snappy.Writer); ok {
		// Close writes nothing further but releases the encoder
		if err := sw.Close(); err != nil && flushErr == nil {
			flushErr = err
		}
	}
	closeErr := w.f.Close()
	if flushErr != nil {
		return fmt.Errorf("dataset: failed to flush %s: %w", w.f.Name(), flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("dataset: failed to close %s: %w", w.f.Name(), closeErr)
	}
	return nil
}

// Open opens a dataset for reading, decompressing snappy files transparently.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to open %s: %w", path, err)
	}

	if IsCompressed(path) {
		return &reader{r: snappy.NewReader(f), f: f}, nil
	}
	return f, nil
}

type reader struct {
	r io.Reader
	f *os.File
}

func (r *reader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

func (r *reader) Close() error {
	return r.f.Close()
}
