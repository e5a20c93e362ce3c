package stormpot

import "time"

// SlotInfo is the read-only view of a slot's incarnation exposed to an
// Expiration. It is a plain value, never the live Slot itself, so
// Expiration implementations cannot mutate pool state — only observe it.
type SlotInfo[T any] struct {
	ageMillis  int64
	claimCount int64
	poolable   T
}

// AgeMillis is the time since the current incarnation of the pooled
// object was allocated.
func (i SlotInfo[T]) AgeMillis() int64 { return i.ageMillis }

// ClaimCount is the number of successful claims against the current
// incarnation.
func (i SlotInfo[T]) ClaimCount() int64 { return i.claimCount }

// Poolable is the user object itself, for expirations that need to
// inspect it (e.g. a connection's "is this session still valid" check).
func (i SlotInfo[T]) Poolable() T { return i.poolable }

func slotInfo[T any](s *Slot[T], nowMillis int64) SlotInfo[T] {
	return SlotInfo[T]{
		ageMillis:  s.AgeMillis(nowMillis),
		claimCount: s.ClaimCount(),
		poolable:   s.object(),
	}
}

// Expiration decides whether a slot's current incarnation should be
// discarded and re-allocated. Implementations must be pure and
// side-effect-free: the pool calls HasExpired on every claim of a slot, so
// the same incarnation is asked again each time it is claimed.
type Expiration[T any] interface {
	HasExpired(info SlotInfo[T]) bool
}

// ExpirationFunc adapts a plain function to Expiration.
type ExpirationFunc[T any] func(info SlotInfo[T]) bool

func (f ExpirationFunc[T]) HasExpired(info SlotInfo[T]) bool { return f(info) }

// TimeExpiration expires a slot once its age exceeds TTL. An age exactly
// equal to TTL is NOT expired (spec.md §3/§8 property 4).
type TimeExpiration[T any] struct {
	ttlMillis int64
}

// NewTimeExpiration builds a TimeExpiration with the given TTL, which must
// be at least 1 millisecond.
func NewTimeExpiration[T any](ttl time.Duration) (*TimeExpiration[T], error) {
	if ttl < time.Millisecond {
		return nil, illegalArgument("ttl must be >= 1ms, got %s", ttl)
	}
	return &TimeExpiration[T]{ttlMillis: ttl.Milliseconds()}, nil
}

func (e *TimeExpiration[T]) HasExpired(info SlotInfo[T]) bool {
	return info.AgeMillis() > e.ttlMillis
}

// CountingExpiration is a test/demo fixture: it replies in a fixed
// sequence of yes/no answers, then repeats its final answer forever once
// the claim count runs past the sequence length.
//
// This fixes the bug spec.md §9's design notes call out in the original
// suite: the index must be min(count, len(replies)-1), not a one-way pin
// that (in the buggy original) could latch onto the wrong reply if count
// ever transiently exceeded the sequence length before settling back down.
// min always points at the last reply once count runs past the end, which
// is the intended behavior, just derived correctly.
type CountingExpiration[T any] struct {
	Replies []bool
}

func (e *CountingExpiration[T]) HasExpired(info SlotInfo[T]) bool {
	if len(e.Replies) == 0 {
		return false
	}
	idx := info.ClaimCount()
	last := int64(len(e.Replies) - 1)
	if idx > last {
		idx = last
	}
	return e.Replies[idx]
}
