package stormpot

import (
	"sync"
	"sync/atomic"
)

type slotState int32

const (
	slotLive slotState = iota
	slotClaimed
	slotDead
	slotTombstone
)

func (s slotState) String() string {
	switch s {
	case slotLive:
		return "live"
	case slotClaimed:
		return "claimed"
	case slotDead:
		return "dead"
	case slotTombstone:
		return "tombstone"
	default:
		return "unknown"
	}
}

// Slot is the state container for one pooled object, for its entire
// lifetime in the pool. It outlives any single incarnation of the user
// object it holds: DEAD→LIVE re-allocation replaces poolable but keeps the
// same Slot.
//
// state is CAS-guarded rather than mutex-guarded (unlike the teacher's
// per-worker mutex) because the spec requires the LIVE→CLAIMED transition
// to be atomic with the LiveQueue pop with no lock held across the
// channel operation.
type Slot[T any] struct {
	owner string // diagnostic only: the owning Pool's instance ID

	state slotState32

	poolable        T
	hasObject       atomic.Bool
	createdAtMillis atomic.Int64
	claimCount      atomic.Int64

	lastAllocErrMu sync.Mutex
	lastAllocErr   error
}

type slotState32 struct {
	v atomic.Int32
}

func (s *slotState32) load() slotState { return slotState(s.v.Load()) }
func (s *slotState32) store(v slotState) { s.v.Store(int32(v)) }
func (s *slotState32) cas(old, newState slotState) bool {
	return s.v.CompareAndSwap(int32(old), int32(newState))
}

func newSlot[T any](owner string) *Slot[T] {
	sl := &Slot[T]{owner: owner}
	sl.state.store(slotDead)
	return sl
}

// AgeMillis returns the slot's age relative to nowMillis.
func (s *Slot[T]) AgeMillis(nowMillis int64) int64 {
	return nowMillis - s.createdAtMillis.Load()
}

// ClaimCount is the number of successful claims against the current
// incarnation.
func (s *Slot[T]) ClaimCount() int64 {
	return s.claimCount.Load()
}

// publish transitions DEAD→LIVE after a successful allocation, recording
// the fresh object and reset bookkeeping per spec.md §3 invariants 4 & 5.
// Must only be called by the allocator worker that owns this slot while it
// is DEAD.
func (s *Slot[T]) publish(obj T, nowMillis int64) {
	s.poolable = obj
	s.hasObject.Store(true)
	s.createdAtMillis.Store(nowMillis)
	s.claimCount.Store(0)
	s.clearAllocError()
	if !s.state.cas(slotDead, slotLive) {
		panic("stormpot: slot publish from non-DEAD state")
	}
}

// recordAllocError keeps the slot DEAD but remembers why, so the next
// claimer that pops it can surface the failure (spec.md §4.2 failure
// policy).
func (s *Slot[T]) recordAllocError(err error) {
	s.lastAllocErrMu.Lock()
	s.lastAllocErr = err
	s.lastAllocErrMu.Unlock()
}

func (s *Slot[T]) takeAllocError() error {
	s.lastAllocErrMu.Lock()
	defer s.lastAllocErrMu.Unlock()
	err := s.lastAllocErr
	s.lastAllocErr = nil
	return err
}

func (s *Slot[T]) clearAllocError() {
	s.lastAllocErrMu.Lock()
	s.lastAllocErr = nil
	s.lastAllocErrMu.Unlock()
}

// claim transitions LIVE→CLAIMED. Returns false if the slot was not LIVE
// (another claimer beat us to it — at-most-one-claim, spec.md §8 property 1).
func (s *Slot[T]) claim() bool {
	if s.state.cas(slotLive, slotClaimed) {
		s.claimCount.Add(1)
		return true
	}
	return false
}

// releaseLive transitions CLAIMED→LIVE (spec.md §4.2).
func (s *Slot[T]) releaseLive() bool {
	return s.state.cas(slotClaimed, slotLive)
}

// releaseDead transitions CLAIMED→DEAD. The object is left in place (not
// zeroed) so the allocator worker can still deallocate it.
func (s *Slot[T]) releaseDead() bool {
	return s.state.cas(slotClaimed, slotDead)
}

// killLive transitions LIVE→DEAD (used when expiration is discovered
// while the slot still sits in the LiveQueue, or during shrink/shutdown).
func (s *Slot[T]) killLive() bool {
	return s.state.cas(slotLive, slotDead)
}

// tombstone transitions DEAD→TOMBSTONE; only valid during shutdown, after
// deallocation (or immediately, if no object was ever allocated).
func (s *Slot[T]) tombstone() bool {
	return s.state.cas(slotDead, slotTombstone)
}

// takeObjectForDeallocation hands back the current object (if any) and
// clears the slot's reference to it, so deallocation happens exactly
// once per incarnation.
func (s *Slot[T]) takeObjectForDeallocation() (T, bool) {
	if !s.hasObject.CompareAndSwap(true, false) {
		var zero T
		return zero, false
	}
	obj := s.poolable
	var zero T
	s.poolable = zero
	return obj, true
}

func (s *Slot[T]) currentState() slotState { return s.state.load() }

func (s *Slot[T]) object() T { return s.poolable }
