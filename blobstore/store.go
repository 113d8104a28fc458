package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store is a flat namespace of immutable blobs. Implementations are safe for
// concurrent use.
type Store interface {
	// Put stores the size bytes read from r under name, replacing any previous blob.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Get opens the blob for reading.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names starting with prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}
