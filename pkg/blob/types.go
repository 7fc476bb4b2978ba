package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get and Delete for a missing key.
var ErrNotFound = errors.New("blob: not found")

// BlobStore holds finished artifacts, such as exported trip logs, under
// slash-separated keys.
type BlobStore interface {
	// Put stores content under key, replacing any previous content.
	Put(ctx context.Context, key string, reader io.Reader) error

	// Get retrieves content from the blob store.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns the keys under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes a blob.
	Delete(ctx context.Context, key string) error
}
