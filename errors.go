package waxgo

import (
	"errors"
	"fmt"

	"github.com/waxlabs/waxgo/factstore"
	"github.com/waxlabs/waxgo/framestore"
	"github.com/waxlabs/waxgo/internal/writerlock"
	"github.com/waxlabs/waxgo/lexical"
	"github.com/waxlabs/waxgo/vindex"
)

var (
	// ErrNotFound is returned when a frame, entity or fact does not exist.
	ErrNotFound = errors.New("not found")

	// ErrWriterBusy is returned by read-write session opens in fail mode
	// when another session holds the writer slot.
	ErrWriterBusy = errors.New("writer busy")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrClosedSession is returned by operations on a closed session.
	ErrClosedSession = errors.New("session closed")

	// ErrReadOnly is returned when a mutating call is made on a read-only
	// session.
	ErrReadOnly = errors.New("session is read-only")

	// ErrInvalidLimit is returned when a query limit is not positive.
	ErrInvalidLimit = errors.New("limit must be positive")

	// ErrSubsystemDisabled is returned when a session touches a subsystem
	// its Config did not enable.
	ErrSubsystemDisabled = errors.New("subsystem disabled for this session")

	// ErrStoreExists is returned by Create when the location already holds
	// a store.
	ErrStoreExists = errors.New("store already exists")

	// ErrStoreLocked is returned by Open when the location's lease file is
	// held by another store instance.
	ErrStoreLocked = errors.New("store locked by another instance")
)

// ErrDimensionMismatch indicates an embedding or query vector whose length
// disagrees with the store's configured dimensionality.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError maps subsystem errors onto the store-level error surface.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, framestore.ErrNotFound) || errors.Is(err, factstore.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, writerlock.ErrBusy) {
		return fmt.Errorf("%w: %w", ErrWriterBusy, err)
	}
	if errors.Is(err, factstore.ErrInvalidLimit) ||
		errors.Is(err, lexical.ErrInvalidLimit) ||
		errors.Is(err, vindex.ErrInvalidLimit) {
		return fmt.Errorf("%w: %w", ErrInvalidLimit, err)
	}

	var fdm *framestore.ErrDimensionMismatch
	if errors.As(err, &fdm) {
		return &ErrDimensionMismatch{Expected: fdm.Expected, Actual: fdm.Actual, cause: err}
	}
	var vdm *vindex.ErrDimensionMismatch
	if errors.As(err, &vdm) {
		return &ErrDimensionMismatch{Expected: vdm.Expected, Actual: vdm.Actual, cause: err}
	}

	return err
}
