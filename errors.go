package docdex

import (
	"errors"
	"fmt"
	"os"

	"github.com/ragkit/docdex/docstore"
	"github.com/ragkit/docdex/hnsw"
	"github.com/ragkit/docdex/snapshot"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrInvalidArgument is returned for malformed operation arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoIndexPath is returned by Save and Load when no index path is
	// configured.
	ErrNoIndexPath = errors.New("no index path configured")

	// ErrClosed is returned by all operations after Close.
	ErrClosed = errors.New("manager is closed")

	// ErrCorrupt marks a snapshot that failed validation on load.
	ErrCorrupt = snapshot.ErrCorrupt
)

// DimensionMismatchError indicates a vector or query whose length does not
// match the configured dimension.
type DimensionMismatchError = hnsw.DimensionMismatchError

// InvalidConfigError reports a Config that cannot produce a working manager.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}

// translateError unifies errors from the inner layers into the package's
// public error surface.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dnf *docstore.NotFoundError
	if errors.As(err, &dnf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var nnf *hnsw.NodeNotFoundError
	if errors.As(err, &nnf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return err
}
