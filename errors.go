package vecdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/internal/collection"
	"github.com/hupe1980/vecdb/internal/pool"
	"github.com/hupe1980/vecdb/internal/resource"
	"github.com/hupe1980/vecdb/metadata"
	"github.com/hupe1980/vecdb/persistence"
	"github.com/hupe1980/vecdb/snapshot"
	"github.com/hupe1980/vecdb/store"
	"github.com/hupe1980/vecdb/wal"
)

var (
	// ErrNotFound is returned when a collection or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a collection whose name is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrZeroVector is returned for all-zero vectors in cosine collections.
	ErrZeroVector = errors.New("zero vector")

	// ErrCorruptLog reports a damaged WAL or snapshot.
	ErrCorruptLog = errors.New("corrupt log")

	// ErrStorageIO reports a persistent storage failure.
	ErrStorageIO = errors.New("storage io error")

	// ErrCancelled is returned when the caller's context ended before the operation completed.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalidArgument reports an unusable parameter.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("closed")

	// ErrResetDisabled is returned by Reset unless WithAllowReset was set.
	ErrResetDisabled = errors.New("reset is disabled")

	// ErrResourceExhausted is returned when the configured memory limit is reached.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// ErrDimensionMismatch indicates a vector/collection dimensionality mismatch.
//
// errors.Is(err, &ErrDimensionMismatch{}) matches any mismatch. The original
// underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// Is reports whether target is a dimension mismatch.
func (e *ErrDimensionMismatch) Is(target error) bool {
	_, ok := target.(*ErrDimensionMismatch)
	return ok
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *distance.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	var sentinel error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		sentinel = ErrCancelled
	case errors.Is(err, store.ErrNotFound):
		sentinel = ErrNotFound
	case errors.Is(err, collection.ErrExists):
		sentinel = ErrAlreadyExists
	case errors.Is(err, distance.ErrZeroVector):
		sentinel = ErrZeroVector
	case errors.Is(err, wal.ErrCorrupt), errors.Is(err, snapshot.ErrCorrupt), errors.Is(err, persistence.ErrCorrupt):
		sentinel = ErrCorruptLog
	case errors.Is(err, collection.ErrClosed), errors.Is(err, wal.ErrClosed), errors.Is(err, pool.ErrClosed):
		sentinel = ErrClosed
	case errors.Is(err, resource.ErrMemoryLimitExceeded):
		sentinel = ErrResourceExhausted
	case errors.Is(err, collection.ErrInvalidArgument),
		errors.Is(err, collection.ErrInvalidConfig),
		errors.Is(err, metadata.ErrInvalidFilter),
		errors.Is(err, metadata.ErrUnsupportedType),
		errors.Is(err, distance.ErrUnknownMetric),
		errors.Is(err, distance.ErrNonFinite),
		errors.Is(err, store.ErrEmptyID):
		sentinel = ErrInvalidArgument
	case errors.Is(err, wal.ErrIO):
		sentinel = ErrStorageIO
	}
	if sentinel == nil {
		var pe *fs.PathError
		if !errors.As(err, &pe) {
			return err
		}
		sentinel = ErrStorageIO
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
