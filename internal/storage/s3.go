package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	perrors "github.com/arkilian/eventpipe/internal/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

const (
	defaultS3Attempts = 4
	baseRetryDelay    = 100 * time.Millisecond
)

// S3Config holds configuration for S3 storage.
type S3Config struct {
	Region string

	// Endpoint overrides the AWS endpoint (MinIO, LocalStack)
	Endpoint string

	// UsePathStyle addresses buckets by path, which MinIO requires
	UsePathStyle bool

	Multipart MultipartUploadConfig
}

// DefaultS3Config returns the default S3 configuration.
func DefaultS3Config() S3Config {
	return S3Config{
		Region:    "us-east-1",
		Multipart: DefaultMultipartConfig(),
	}
}

// S3Storage implements ObjectStorage on an S3 bucket. Every request is
// retried with exponential backoff; a missing object is never retried.
type S3Storage struct {
	client    *s3.Client
	bucket    string
	multipart MultipartUploadConfig
	attempts  int
}

// NewS3Storage loads the default AWS credential chain and creates storage
// for bucket.
func NewS3Storage(ctx context.Context, bucket string, cfg S3Config) (*S3Storage, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, perrors.NewValidationError(perrors.CodeInvalidConfig,
			fmt.Sprintf("load AWS config: %v", err))
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageWithClient(client, bucket, cfg), nil
}

// NewS3StorageWithClient creates storage around an existing client.
func NewS3StorageWithClient(client *s3.Client, bucket string, cfg S3Config) *S3Storage {
	mp := cfg.Multipart
	def := DefaultMultipartConfig()
	if mp.PartSize <= 0 {
		mp.PartSize = def.PartSize
	}
	if mp.Concurrency <= 0 {
		mp.Concurrency = def.Concurrency
	}
	return &S3Storage{
		client:    client,
		bucket:    bucket,
		multipart: mp,
		attempts:  defaultS3Attempts,
	}
}

// retryDelay is the pause after the given failed attempt (0-based).
func retryDelay(attempt int) time.Duration {
	return baseRetryDelay << attempt
}

// withRetry runs op until it succeeds, fails with ErrObjectNotFound, or
// runs out of attempts.
func withRetry[T any](ctx context.Context, attempts int, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(retryDelay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrObjectNotFound) {
			return zero, err
		}
		lastErr = err
	}
	return zero, lastErr
}

func isNotFound(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// Upload stores the file with a single PutObject.
func (s *S3Storage) Upload(ctx context.Context, localPath, key string) error {
	_, err := s.put(ctx, localPath, key)
	return err
}

func (s *S3Storage) put(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", uploadFailed(key, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", uploadFailed(key, err)
	}

	etag, err := withRetry(ctx, s.attempts, func(ctx context.Context) (string, error) {
		out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          io.NewSectionReader(f, 0, info.Size()),
			ContentLength: aws.Int64(info.Size()),
		})
		if err != nil {
			return "", err
		}
		return aws.ToString(out.ETag), nil
	})
	if err != nil {
		return "", uploadFailed(key, err)
	}
	return etag, nil
}

// UploadMultipart uploads files larger than one part concurrently in parts
// and returns the ETag. Smaller files use a single PutObject.
func (s *S3Storage) UploadMultipart(ctx context.Context, localPath, key string) (string, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return "", uploadFailed(key, err)
	}
	if info.Size() <= s.multipart.PartSize {
		return s.put(ctx, localPath, key)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", uploadFailed(key, err)
	}
	defer f.Close()

	created, err := withRetry(ctx, s.attempts, func(ctx context.Context) (*s3.CreateMultipartUploadOutput, error) {
		return s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return "", uploadFailed(key, err)
	}

	parts, err := s.uploadParts(ctx, f, info.Size(), key, created.UploadId)
	if err != nil {
		s.abort(key, created.UploadId)
		return "", uploadFailed(key, err)
	}

	done, err := withRetry(ctx, s.attempts, func(ctx context.Context) (*s3.CompleteMultipartUploadOutput, error) {
		return s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(s.bucket),
			Key:             aws.String(key),
			UploadId:        created.UploadId,
			MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
		})
	})
	if err != nil {
		s.abort(key, created.UploadId)
		return "", uploadFailed(key, err)
	}
	return aws.ToString(done.ETag), nil
}

func (s *S3Storage) uploadParts(ctx context.Context, f *os.File, size int64, key string, uploadID *string) ([]s3types.CompletedPart, error) {
	partSize := s.multipart.PartSize
	count := int((size + partSize - 1) / partSize)
	parts := make([]s3types.CompletedPart, count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.multipart.Concurrency)

	for i := 0; i < count; i++ {
		offset := int64(i) * partSize
		length := min(partSize, size-offset)
		number := aws.Int32(int32(i + 1))

		g.Go(func() error {
			etag, err := withRetry(gctx, s.attempts, func(ctx context.Context) (*string, error) {
				out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
					Bucket:        aws.String(s.bucket),
					Key:           aws.String(key),
					UploadId:      uploadID,
					PartNumber:    number,
					Body:          io.NewSectionReader(f, offset, length),
					ContentLength: aws.Int64(length),
				})
				if err != nil {
					return nil, err
				}
				return out.ETag, nil
			})
			if err != nil {
				return fmt.Errorf("part %d: %w", *number, err)
			}
			parts[i] = s3types.CompletedPart{ETag: etag, PartNumber: number}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

// abort releases the parts of a failed upload. It runs detached from the
// caller's context, which may be what cancelled the upload.
func (s *S3Storage) abort(key string, uploadID *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
}

// Download streams the object into localPath, replacing it atomically.
func (s *S3Storage) Download(ctx context.Context, key, localPath string) error {
	_, err := withRetry(ctx, s.attempts, func(ctx context.Context) (struct{}, error) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if isNotFound(err) {
			return struct{}{}, ErrObjectNotFound.WithDetails(map[string]interface{}{"key": key})
		}
		if err != nil {
			return struct{}{}, err
		}
		defer out.Body.Close()
		return struct{}{}, replaceFile(localPath, out.Body, nil)
	})
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		return downloadFailed(key, err)
	}
	return err
}

// Delete removes an object.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := withRetry(ctx, s.attempts, func(ctx context.Context) (*s3.DeleteObjectOutput, error) {
		return s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
	})
	if err != nil {
		return perrors.NewStorageError(perrors.CodeWriteFailed, fmt.Sprintf("delete %s", key), err)
	}
	return nil
}

// Exists issues a HeadObject for key.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := withRetry(ctx, s.attempts, func(ctx context.Context) (bool, error) {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if isNotFound(err) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return false, downloadFailed(key, err)
	}
	return exists, nil
}

// ListObjects returns every key under prefix.
func (s *S3Storage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, downloadFailed(prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}
