package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	perrors "github.com/arkilian/eventpipe/internal/errors"
)

// partialPrefix names in-progress files written by replaceFile.
const partialPrefix = ".partial-"

// LocalStorage implements ObjectStorage on a directory tree. Object keys map
// to slash-separated paths under the root. ETags are the hex md5 of the
// object, as S3 reports for single-part uploads.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates storage rooted at basePath, creating it if needed.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, perrors.NewIOError(perrors.CodeOpenFailed, "create storage directory", err)
	}
	return &LocalStorage{root: basePath}, nil
}

func (l *LocalStorage) objectFile(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Upload stores the file at localPath under key.
func (l *LocalStorage) Upload(ctx context.Context, localPath, key string) error {
	_, err := l.UploadMultipart(ctx, localPath, key)
	return err
}

// UploadMultipart stores the file in one piece and returns its ETag.
func (l *LocalStorage) UploadMultipart(ctx context.Context, localPath, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", uploadFailed(key, err)
	}
	defer src.Close()

	sum := md5.New()
	if err := replaceFile(l.objectFile(key), src, sum); err != nil {
		return "", uploadFailed(key, err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// Download copies the object to localPath. The destination is replaced
// atomically, so a failed download leaves any previous copy intact.
func (l *LocalStorage) Download(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(l.objectFile(key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrObjectNotFound.WithDetails(map[string]interface{}{"key": key})
	}
	if err != nil {
		return downloadFailed(key, err)
	}
	defer src.Close()

	if err := replaceFile(localPath, src, nil); err != nil {
		return downloadFailed(key, err)
	}
	return nil
}

// replaceFile writes r to a temporary file beside dst and renames it over
// dst. When sum is non-nil it receives every byte written.
func replaceFile(dst string, r io.Reader, sum hash.Hash) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	if sum != nil {
		w = io.MultiWriter(tmp, sum)
	}
	if _, err := io.Copy(w, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Delete removes an object. Missing objects are ignored, matching S3.
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(l.objectFile(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return perrors.NewStorageError(perrors.CodeWriteFailed, fmt.Sprintf("delete %s", key), err)
	}
	return nil
}

// Exists reports whether key names a stored object.
func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	info, err := os.Stat(l.objectFile(key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, downloadFailed(key, err)
	default:
		return !info.IsDir(), nil
	}
}

// GetETag hashes the stored object. ok is false when it does not exist.
func (l *LocalStorage) GetETag(key string) (etag string, ok bool) {
	f, err := os.Open(l.objectFile(key))
	if err != nil {
		return "", false
	}
	defer f.Close()

	sum := md5.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", false
	}
	return hex.EncodeToString(sum.Sum(nil)), true
}

// ListObjects returns the keys under prefix. Temporary upload files are
// not listed.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := filepath.WalkDir(l.objectFile(prefix), func(p string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), partialPrefix) {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, downloadFailed(prefix, err)
	}
	return keys, nil
}

func uploadFailed(key string, err error) error {
	return perrors.NewStorageError(perrors.CodeUploadFailed, fmt.Sprintf("upload %s", key), err)
}

func downloadFailed(key string, err error) error {
	return perrors.NewStorageError(perrors.CodeDownloadFailed, fmt.Sprintf("download %s", key), err)
}
