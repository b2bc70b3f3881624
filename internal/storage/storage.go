// Package storage abstracts the object store holding receipt images. The
// pipeline only reads; Put/Delete/PresignGet serve the ingestion and
// download boundaries.
package storage

import (
	"context"
	"time"
)

// Store is the byte-blob contract for receipt images.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}
