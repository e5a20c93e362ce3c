package stormpot

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pool ties the whole concurrency engine together: LiveQueue, DeadQueue,
// allocator workers and the shared Scheduler. Construct with NewPool; the
// zero value is not usable.
type Pool[T any] struct {
	id         string
	allocator  Allocator[T]
	expiration Expiration[T]
	scheduler  *Scheduler
	logger     zerolog.Logger

	targetSize   atomic.Int32
	liveCount    atomic.Int32
	allocCount   atomic.Int64 // spec.md §3 allocCount: every Allocate() call, success or fail
	slotsCreated atomic.Int64
	tombstoned   atomic.Int64
	shuttingDown atomic.Bool

	live *liveQueue[T]
	dead *deadQueue[T]

	// allocatorConcurrency bounds how many drain tasks this pool may have
	// dispatched on the shared Scheduler at once; drainersActive tracks
	// how many are currently in flight. Both exist so dead-queue draining
	// is dispatched through Scheduler.pushImmediate (and therefore the
	// Scheduler's maxThreads-bounded worker pool, shared across every pool
	// on that Scheduler) instead of a dedicated per-pool goroutine —
	// see allocator_worker.go.
	allocatorConcurrency int32
	drainersActive       atomic.Int32

	completion *Completion
}

// NewPool constructs and starts a Pool from cfg. Initial allocation of
// cfg.Size slots is dispatched to the dead queue immediately; callers do
// not need to wait for it before calling Claim, which simply blocks until
// the first slot is ready.
func NewPool[T any](cfg Config[T]) (*Pool[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool[T]{
		id:                   uuid.New().String(),
		allocator:            cfg.Allocator,
		expiration:           cfg.Expiration,
		scheduler:            cfg.Scheduler,
		logger:               *cfg.Logger,
		live:                 newLiveQueue[T](cfg.Size),
		dead:                 newDeadQueue[T](),
		allocatorConcurrency: int32(cfg.AllocatorConcurrency),
		completion:           newCompletion(),
	}
	p.targetSize.Store(int32(cfg.Size))

	p.scheduler.IncrementReferences()

	for i := 0; i < cfg.Size; i++ {
		p.growBySlot()
	}

	return p, nil
}

// growBySlot constructs one fresh DEAD slot and queues it for allocation.
func (p *Pool[T]) growBySlot() {
	p.slotsCreated.Add(1)
	slot := newSlot[T](p.id)
	p.pushDead(slot)
}

// Claim pops a live, unexpired, error-free slot within ctx's deadline and
// returns a Lease wrapping its user object (spec.md §4.6). Release the
// Lease exactly once when done with it.
func (p *Pool[T]) Claim(ctx context.Context) (*Lease[T], error) {
	if p.shuttingDown.Load() {
		return nil, ErrPoolClosed
	}

	for {
		slot, err := p.live.claim(ctx)
		if err != nil {
			return nil, err
		}

		// Step 4 of spec.md §4.6: a poisoned hand-off from a failed
		// allocation is re-queued for retry and the failure is surfaced.
		if allocErr := slot.takeAllocError(); allocErr != nil {
			p.pushDead(slot)
			return nil, &AllocationFailure{Err: allocErr}
		}

		now := p.scheduler.clockSource().NowMillis()
		if p.expiration.HasExpired(slotInfo(slot, now)) {
			p.killAndRequeue(slot)
			continue
		}

		if p.shrinkIfSurplus(slot) {
			continue
		}

		if !slot.claim() {
			// Lost a race (shouldn't happen given LiveQueue hands each slot
			// to exactly one goroutine) — treat as spurious and retry.
			continue
		}
		return &Lease[T]{slot: slot, pool: p}, nil
	}
}

// ClaimTimeout is a convenience wrapper around Claim using a bare
// duration, matching spec.md §6's Timeout(value, unit) ergonomics.
func (p *Pool[T]) ClaimTimeout(d time.Duration) (*Lease[T], error) {
	ctx, cancel := Timeout(d)
	defer cancel()
	return p.Claim(ctx)
}

// release returns a claimed slot to the pool. expired signals that the
// caller knows the object should be discarded (e.g. it proactively
// invalidated it) even if Expiration would not have said so. Called only
// from Lease.Release, which guards against double-release.
func (p *Pool[T]) release(slot *Slot[T], expired bool) error {
	if p.shuttingDown.Load() || expired {
		p.killAndRequeue(slot)
		return nil
	}
	if p.shrinkIfSurplusClaimed(slot) {
		return nil
	}
	if !slot.releaseLive() {
		return illegalState("release called on a slot that was not claimed (double-release?)")
	}
	return nil
}

func (p *Pool[T]) killAndRequeue(slot *Slot[T]) {
	state := slot.currentState()
	var ok bool
	switch state {
	case slotLive:
		ok = slot.killLive()
	case slotClaimed:
		ok = slot.releaseDead()
	}
	if ok {
		p.liveCount.Add(-1)
		p.pushDead(slot)
	}
}

func (p *Pool[T]) shrinkIfSurplus(slot *Slot[T]) bool {
	if int(p.liveCount.Load()) <= int(p.targetSize.Load()) {
		return false
	}
	if slot.killLive() {
		p.liveCount.Add(-1)
		p.pushDead(slot)
		return true
	}
	return false
}

func (p *Pool[T]) shrinkIfSurplusClaimed(slot *Slot[T]) bool {
	if int(p.liveCount.Load()) <= int(p.targetSize.Load()) {
		return false
	}
	if slot.releaseDead() {
		p.liveCount.Add(-1)
		p.pushDead(slot)
		return true
	}
	return false
}

// SetTargetSize adjusts the pool's capacity. Growing schedules new
// allocations immediately; shrinking marks surplus LIVE slots DEAD
// lazily, as they are next claimed or released (spec.md §4.6).
func (p *Pool[T]) SetTargetSize(n int) error {
	if n < 1 {
		return illegalArgument("target size must be >= 1, got %d", n)
	}
	old := int(p.targetSize.Swap(int32(n)))
	if n > old {
		p.live.grow(n)
		for i := 0; i < n-old; i++ {
			p.growBySlot()
		}
	}
	return nil
}

// TargetSize returns the pool's current configured capacity.
func (p *Pool[T]) TargetSize() int {
	return int(p.targetSize.Load())
}

// Stats returns a point-in-time snapshot of the pool's bookkeeping.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		AllocationAttempts: p.allocCount.Load(),
		SlotsCreated:       p.slotsCreated.Load(),
		Tombstoned:         p.tombstoned.Load(),
		LiveCount:          int(p.liveCount.Load()),
		TargetSize:         int(p.targetSize.Load()),
	}
}

// Shutdown marks the pool as shutting down, drains the LiveQueue routing
// every slot to deallocation, and returns a Completion that resolves once
// every slot has been tombstoned (spec.md §4.6/§8 property 3).
func (p *Pool[T]) Shutdown() *Completion {
	if !p.shuttingDown.CompareAndSwap(false, true) {
		return p.completion
	}

	go func() {
		for {
			slot, ok := p.live.tryClaim()
			if !ok {
				break
			}
			// A poisoned hand-off (allocation failure) never reached LIVE;
			// it's already DEAD, so route it straight to teardown instead
			// of going through the LIVE/CLAIMED-only killAndRequeue path.
			slot.takeAllocError()
			if slot.currentState() == slotDead {
				p.pushDead(slot)
				continue
			}
			p.killAndRequeue(slot)
		}
		p.watchForCompletion()
	}()

	return p.completion
}

// watchForCompletion polls until liveCount has reached zero and every slot
// the pool created has been tombstoned, then signals the completion and
// releases this pool's hold on the shared Scheduler.
// There are no per-pool worker goroutines to tear down: dead-queue
// draining runs as tasks on the Scheduler, which keeps running until this
// DecrementReferences call (or another pool's) drops its reference count
// to zero.
func (p *Pool[T]) watchForCompletion() {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if p.liveCount.Load() == 0 && p.tombstoned.Load() == p.slotsCreated.Load() {
			break
		}
	}

	if err := p.scheduler.DecrementReferences(); err != nil {
		p.logger.Warn().Err(err).Msg("scheduler references did not release cleanly on shutdown")
	}

	p.completion.signal()
}
