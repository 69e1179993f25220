package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	perrors "github.com/arkilian/eventpipe/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(filepath.Join(t.TempDir(), "objects"))
	require.NoError(t, err)
	return s
}

func sourceFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestLocalStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	body := `{"event_id":"a","event_type":"purchase"}` + "\n"
	key := "datasets/events.jsonl"

	require.NoError(t, s.Upload(ctx, sourceFile(t, body), key))

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	dst := filepath.Join(t.TempDir(), "nested", "copy.jsonl")
	require.NoError(t, s.Download(ctx, key, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))

	require.NoError(t, s.Delete(ctx, key))
	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is not an error
	assert.NoError(t, s.Delete(ctx, key))
}

func TestLocalStorage_ETagIsContentMD5(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	etag, err := s.UploadMultipart(ctx, sourceFile(t, "hello"), "k")
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", etag)

	stored, ok := s.GetETag("k")
	require.True(t, ok)
	assert.Equal(t, etag, stored)

	_, ok = s.GetETag("absent")
	assert.False(t, ok)
}

func TestLocalStorage_OverwriteReplacesContent(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	first, err := s.UploadMultipart(ctx, sourceFile(t, "first"), "k")
	require.NoError(t, err)
	second, err := s.UploadMultipart(ctx, sourceFile(t, "second"), "k")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	dst := filepath.Join(t.TempDir(), "k")
	require.NoError(t, os.WriteFile(dst, []byte("stale"), 0644))
	require.NoError(t, s.Download(ctx, "k", dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestLocalStorage_Errors(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	err := s.Upload(ctx, filepath.Join(t.TempDir(), "missing"), "k")
	assert.Equal(t, perrors.CodeUploadFailed, perrors.GetCode(err))

	err = s.Download(ctx, "nope/object", filepath.Join(t.TempDir(), "dst"))
	assert.ErrorIs(t, err, ErrObjectNotFound)

	// A prefix directory is not an object
	require.NoError(t, s.Upload(ctx, sourceFile(t, "x"), "dir/obj"))
	ok, err := s.Exists(ctx, "dir")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage_ListObjects(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	src := sourceFile(t, "x")

	for _, key := range []string{"datasets/a.jsonl", "datasets/b.jsonl.sz", "other/c.jsonl"} {
		require.NoError(t, s.Upload(ctx, src, key))
	}
	// Leftover from an interrupted upload
	require.NoError(t, os.WriteFile(s.objectFile("datasets/"+partialPrefix+"123"), []byte("x"), 0644))

	keys, err := s.ListObjects(ctx, DatasetPrefix)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"datasets/a.jsonl", "datasets/b.jsonl.sz"}, keys)

	keys, err = s.ListObjects(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	s := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Upload(ctx, sourceFile(t, "x"), "k"), context.Canceled)
	_, err := s.Exists(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.ListObjects(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}
