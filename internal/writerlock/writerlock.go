// Package writerlock implements the per-store single-writer gate.
//
// The lock is an explicit resource owned by a store instance, never ambient
// process state, so multiple stores over different locations cannot interfere.
package writerlock

import (
	"context"
	"errors"
)

// ErrBusy is returned by TryAcquire when the writer slot is held.
var ErrBusy = errors.New("writer busy")

// Lock is a single-slot mutual exclusion gate. The zero value is not usable;
// call New.
type Lock struct {
	slot chan struct{}
}

// New creates an unheld Lock.
func New() *Lock {
	return &Lock{slot: make(chan struct{}, 1)}
}

// Acquire blocks until the writer slot is free or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to take the slot without blocking. If the slot is held
// it fails fast with ErrBusy; it never retries internally.
func (l *Lock) TryAcquire() error {
	select {
	case l.slot <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

// Release frees the slot. Releasing an unheld lock panics: that is always a
// bookkeeping bug in the caller.
func (l *Lock) Release() {
	select {
	case <-l.slot:
	default:
		panic("writerlock: release of unheld lock")
	}
}

// Held reports whether the slot is currently taken. Intended for stats and
// tests; the result is stale the moment it returns.
func (l *Lock) Held() bool {
	return len(l.slot) == 1
}
