package stormpot

import "sync/atomic"

// Lease is the handle Claim hands back: the claimed object plus the exact
// slot it came from, so Release always routes to the right slot without
// needing T to be comparable or to implement any interface of its own
// (spec.md §4.6: "caller uses the slot reference it was handed").
type Lease[T any] struct {
	slot     *Slot[T]
	pool     *Pool[T]
	released atomic.Bool
}

// Value returns the claimed user object.
func (l *Lease[T]) Value() T { return l.slot.object() }

// Release returns the slot to the pool. expired signals the object
// should be discarded and re-allocated even if Expiration would not have
// flagged it (e.g. the caller proactively invalidated it). Calling
// Release more than once on the same Lease is a programmer error and
// returns ErrIllegalState (spec.md §4.6).
func (l *Lease[T]) Release(expired bool) error {
	if !l.released.CompareAndSwap(false, true) {
		return illegalState("lease already released")
	}
	return l.pool.release(l.slot, expired)
}
