package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectStore abstracts the S3-compatible bucket backing vodarr. Keys are
// bucket-relative; the key layout lives in keys.go.
type ObjectStore interface {
	// PresignedPutURL returns a URL a client can PUT the raw upload to
	// directly, valid for expiry.
	PresignedPutURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	// PresignedGetURL returns a time-limited download URL for an object.
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Stat returns object metadata.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	// Put writes an object.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get opens an object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Remove deletes one object. Removing a missing object is not an error.
	Remove(ctx context.Context, key string) error
	// RemovePrefix deletes every object under a key prefix and returns the
	// number removed.
	RemovePrefix(ctx context.Context, prefix string) (int, error)
	// ListPrefix lists objects under a key prefix.
	ListPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
