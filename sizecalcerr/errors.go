// Package sizecalcerr holds the sentinel errors the size-calculator core can
// raise. Every error is a plain, comparable sentinel wrapped with a stack
// trace at its raise site via github.com/pkg/errors, so callers can both
// errors.Is against the sentinel and %+v it for diagnostics.
package sizecalcerr

import "errors"

var (
	// ErrThreadCapExceeded is returned by Registry.Register when nextId
	// has reached MAX_THREADS and the free-id pool is empty.
	ErrThreadCapExceeded = errors.New("sizecalc: thread cap exceeded")

	// ErrDoubleRegister is returned when a Handle that is already
	// registered is registered again.
	ErrDoubleRegister = errors.New("sizecalc: thread already registered")

	// ErrNullKey is returned by a SizeSet operation given a nil key.
	ErrNullKey = errors.New("sizecalc: nil key")

	// ErrNullValue is returned by a SizeSet operation given a nil value.
	ErrNullValue = errors.New("sizecalc: nil value")

	// ErrComputeCancelled is returned by a Calculator's Compute when its
	// context is cancelled before a result could be produced.
	ErrComputeCancelled = errors.New("sizecalc: compute cancelled")
)
