// Package storage provides object storage for uploaded bill artifacts.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("storage object not found")

var errEmptyKey = errors.New("storage key is required")

// BlobStore stores raw artifacts and hands out short-lived links to them.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// PresignInline returns a URL that renders the object in the browser
	// instead of forcing a download.
	PresignInline(ctx context.Context, key string, expiresIn time.Duration) (string, time.Time, error)
}
