// Package storage provides the triple-redundant artifact store: a single
// capability interface implemented by a local filesystem backend and two
// independent S3-compatible remote backends, plus the replicated store
// that fans uploads out to all three and downloads through an ordered
// failover chain.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Download and Size when the key does not
// exist on the backend.
var ErrNotFound = errors.New("object not found")

// Backend is the uniform capability interface over one artifact store.
// No caller branches on backend identity beyond configuration-time
// selection; everything above this interface treats the three variants
// identically.
type Backend interface {
	Name() string
	Upload(ctx context.Context, localPath, key string) error
	Download(ctx context.Context, key, localPath string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Size(ctx context.Context, key string) (int64, error)
	// Usage returns used and total bytes. Total is the configured quota
	// and may be zero when no quota is set.
	Usage(ctx context.Context) (used, total int64, err error)
}
