package stormpot

import (
	"errors"
	"fmt"
)

// Sentinel errors, checked with errors.Is, mirroring spec.md §7's error
// kinds. Context cancellation/deadline-exceeded (context.Canceled,
// context.DeadlineExceeded) stands in for the spec's "Interrupted" kind —
// Go's cancellation model already re-interrupts the waiting goroutine's
// control flow without a bespoke type.
var (
	// ErrIllegalArgument is returned from Config.Validate and
	// NewTimeExpiration for invalid configuration.
	ErrIllegalArgument = errors.New("stormpot: illegal argument")

	// ErrIllegalState is returned for operations that violate the pool's
	// lifecycle contract: double-release, DecrementReferences on a
	// scheduler whose reference count is already zero, or a
	// controller/clock-keeper goroutine that failed to join in time.
	// Enqueueing background work does not check the reference count and
	// never returns this error.
	ErrIllegalState = errors.New("stormpot: illegal state")

	// ErrPoolClosed is returned by Claim once Shutdown has been called.
	ErrPoolClosed = errors.New("stormpot: pool is shut down")
)

// AllocationFailure wraps an error returned by the user's Allocator. It is
// surfaced to the caller of the Claim that popped the poisoned slot; the
// slot itself is re-queued for another allocation attempt.
type AllocationFailure struct {
	Err error
}

func (e *AllocationFailure) Error() string {
	return fmt.Sprintf("stormpot: allocation failed: %v", e.Err)
}

func (e *AllocationFailure) Unwrap() error { return e.Err }

func illegalArgument(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrIllegalArgument}, args...)...)
}

func illegalState(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrIllegalState}, args...)...)
}
