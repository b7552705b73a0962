// Package blobstore abstracts remote object storage for snapshot export and
// import. Objects are whole snapshot files, written once and read back as a
// stream.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations should return an error that satisfies
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is an object store for snapshot files.
type Store interface {
	// Put writes an object. size is the content length, or -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Open returns the object content and its size.
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the object names under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
