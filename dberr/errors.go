// Package dberr defines the engine's error taxonomy: sentinel errors for
// resource exhaustion, unsupported operator kinds, page-table misses and
// use of a shut-down disk scheduler, wrapped with context at the point of
// failure and inspected with errors.Is/errors.As by callers.
package dberr

import "errors"

var (
	// ErrNoFreeFrame is returned by the buffer pool when every frame is
	// pinned and the replacer cannot produce a victim.
	ErrNoFreeFrame = errors.New("buffer pool: no free frame available")

	// ErrOutOfStorage is returned when the disk provider cannot allocate
	// another page.
	ErrOutOfStorage = errors.New("disk: out of storage")

	// ErrNotImplemented marks an unsupported join type or window function
	// kind. hashjoin.New returns it at construction; the window operator
	// returns it from Init, when it computes a column of an unsupported
	// kind.
	ErrNotImplemented = errors.New("not implemented")

	// ErrNotFound covers page-table and page-table-adjacent misses that
	// are not a domain no-op (e.g. FlushPage on an unknown id).
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by the disk Scheduler's Schedule and
	// ScheduleAndWait once Shutdown has been called.
	ErrClosed = errors.New("closed")
)
