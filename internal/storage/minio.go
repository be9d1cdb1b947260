package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vodarr/vodarr/internal/config"
)

// MinioStore implements ObjectStore against any S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewMinioStore connects to the configured endpoint and ensures the bucket
// exists.
func NewMinioStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 128,
			IdleConnTimeout:     90 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("creating bucket %q: %w", cfg.Bucket, err)
		}
		logger.Info("created storage bucket", "bucket", cfg.Bucket)
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// PresignedPutURL returns a URL a client can PUT an object to directly.
func (s *MinioStore) PresignedPutURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("presigning upload URL for %q: %w", key, err)
	}
	return u.String(), nil
}

// PresignedGetURL returns a time-limited download URL for an object.
func (s *MinioStore) PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presigning download URL for %q: %w", key, err)
	}
	return u.String(), nil
}

// Exists reports whether the object is present.
func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("checking object %q: %w", key, err)
	}
	return true, nil
}

// Stat returns object metadata.
func (s *MinioStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("statting object %q: %w", key, err)
	}
	return &ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// Put writes an object.
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("writing object %q: %w", key, err)
	}
	return nil
}

// Get opens an object for reading.
func (s *MinioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("opening object %q: %w", key, err)
	}
	return obj, nil
}

// Remove deletes one object. Missing objects are not an error, so cleanup
// stays idempotent.
func (s *MinioStore) Remove(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("removing object %q: %w", key, err)
	}
	return nil
}

// RemovePrefix deletes every object under a key prefix.
func (s *MinioStore) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	removed := 0
	for obj := range objects {
		if obj.Err != nil {
			return removed, fmt.Errorf("listing prefix %q: %w", prefix, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("removing object %q: %w", obj.Key, err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Debug("removed object prefix", "prefix", prefix, "count", removed)
	}
	return removed, nil
}

// ListPrefix lists objects under a key prefix.
func (s *MinioStore) ListPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var infos []ObjectInfo
	for obj := range objects {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing prefix %q: %w", prefix, obj.Err)
		}
		infos = append(infos, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return infos, nil
}
