// Package objectstore stores uploaded file bytes in S3-compatible storage.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Object is one listed entry. Name is relative to the listed prefix.
type Object struct {
	Key  string
	Name string
	Size int64
}

type Store interface {
	Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) error
	// List returns objects under prefix whose name contains search.
	// An empty search matches everything.
	List(ctx context.Context, prefix, search string) ([]Object, error)
	Remove(ctx context.Context, paths ...string) error
	Download(ctx context.Context, path string) ([]byte, error)
	PresignGet(ctx context.Context, path string, expires time.Duration) (string, error)
	Bucket() string
}
