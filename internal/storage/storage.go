// Package storage provides object storage for publishing and fetching datasets.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/arkilian/eventpipe/internal/config"
	perrors "github.com/arkilian/eventpipe/internal/errors"
)

// DatasetPrefix is the key prefix for published datasets.
const DatasetPrefix = "datasets/"

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = perrors.New(perrors.ErrCategoryStorage, perrors.CodeObjectNotFound, "object not found")

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Upload copies the local file at localPath to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// UploadMultipart uploads in parts for large files and returns the ETag.
	UploadMultipart(ctx context.Context, localPath, objectPath string) (string, error)

	// Download copies objectPath to localPath, creating parent directories.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 8MB).
	PartSize int64

	// Concurrency bounds the parts in flight at once.
	Concurrency int
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize:    8 * 1024 * 1024,
		Concurrency: 4,
	}
}

// New builds the object storage selected by cfg. It returns nil storage for
// the none type.
func New(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case config.StorageNone, "":
		return nil, nil
	case config.StorageLocal:
		local, err := NewLocalStorage(cfg.Path)
		if err != nil {
			return nil, err
		}
		return local, nil
	case config.StorageS3:
		s3Cfg := DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		s3Cfg.Endpoint = cfg.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.S3.UsePathStyle
		s3Store, err := NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
		if err != nil {
			return nil, err
		}
		return s3Store, nil
	default:
		return nil, perrors.NewValidationError(perrors.CodeInvalidConfig,
			fmt.Sprintf("unsupported storage type: %s", cfg.Type))
	}
}

// DatasetKey returns the object key a dataset file is published under.
func DatasetKey(localPath string) string {
	return path.Join(DatasetPrefix, filepath.Base(localPath))
}

// ParseObjectURI splits a storage:// input path into its object key.
// ok is false for plain filesystem paths.
func ParseObjectURI(input string) (key string, ok bool) {
	if !strings.HasPrefix(input, config.StorageScheme) {
		return "", false
	}
	return strings.TrimPrefix(input, config.StorageScheme), true
}

// ObjectURI returns the storage:// form of key.
func ObjectURI(key string) string {
	return config.StorageScheme + key
}

// Publish uploads a dataset file under DatasetKey and returns its key and ETag.
func Publish(ctx context.Context, store ObjectStorage, localPath string) (string, string, error) {
	key := DatasetKey(localPath)
	etag, err := store.UploadMultipart(ctx, localPath, key)
	if err != nil {
		return "", "", err
	}
	return key, etag, nil
}
