package stormpot

// This file is the "Allocator worker(s)" component from spec.md §4.5: it
// drains the dead queue, invokes the user Allocator, and publishes freshly
// allocated slots back to the LiveQueue. Unlike a dedicated per-pool
// goroutine, the drain runs as a task dispatched through the owning
// Scheduler's ProcessController, so its concurrency is bounded by the
// Scheduler's shared maxThreads semaphore across every pool bound to it —
// the "amortises ... worker threads across multiple pool instances"
// guarantee from spec.md §1, which a dedicated blocking goroutine per pool
// cannot give.

// pushDead enqueues slot on the dead queue and schedules a drain task,
// capped at Config.AllocatorConcurrency concurrent drain tasks for this
// pool (itself a subset of the Scheduler's process-wide maxThreads bound).
func (p *Pool[T]) pushDead(slot *Slot[T]) {
	p.dead.push(slot)
	p.scheduleDrain()
}

// scheduleDrain dispatches one drain task via the Scheduler's task stack
// if this pool is not already running AllocatorConcurrency of them.
func (p *Pool[T]) scheduleDrain() {
	for {
		cur := p.drainersActive.Load()
		if cur >= p.allocatorConcurrency {
			return
		}
		if p.drainersActive.CompareAndSwap(cur, cur+1) {
			p.scheduler.pushImmediate(p.runDrainTask)
			return
		}
	}
}

// runDrainTask is the work function dispatched onto the Scheduler's
// semaphore-bounded worker pool. It drains every slot currently on the
// dead queue, then releases its concurrency slot. A push that raced with
// the final empty check is caught by re-checking the queue once more
// before returning — without this, a slot pushed in that narrow window
// would sit unprocessed until some unrelated future push happened to
// schedule a new drain task.
func (p *Pool[T]) runDrainTask() {
	for {
		slot, ok := p.dead.tryPop()
		if !ok {
			break
		}
		p.processDeadSlot(slot)
	}
	p.drainersActive.Add(-1)
	if p.dead.nonEmpty() {
		p.scheduleDrain()
	}
}

// processDeadSlot decides, for one DEAD slot, whether to re-allocate it or
// tear it down for good.
func (p *Pool[T]) processDeadSlot(slot *Slot[T]) {
	if p.shuttingDown.Load() {
		p.deallocateAndTombstone(slot)
		return
	}

	if int(p.liveCount.Load()) >= int(p.targetSize.Load()) {
		// A shrink made this slot surplus between being marked DEAD and
		// being picked up here; retire it instead of reallocating.
		p.deallocateAndTombstone(slot)
		return
	}

	// Deallocate the previous incarnation (if any) before replacing it.
	if old, ok := slot.takeObjectForDeallocation(); ok {
		if err := p.allocator.Deallocate(old); err != nil {
			p.logger.Warn().
				Str("pool", p.id).
				Err(err).
				Msg("deallocate failed; slot reallocated anyway")
		}
	}

	p.allocCount.Add(1)
	obj, err := p.allocator.Allocate()
	if err != nil {
		slot.recordAllocError(err)
		// Poisoned hand-off: push to LiveQueue so a claimer observes and
		// surfaces the failure, per spec.md §4.2's failure policy, even
		// though the slot's own state stays DEAD.
		p.live.push(slot)
		return
	}

	now := p.scheduler.clockSource().NowMillis()
	slot.publish(obj, now)
	p.liveCount.Add(1)
	p.live.push(slot)
}

// deallocateAndTombstone calls the user Deallocate (if the slot still
// holds an object) and transitions the slot to its terminal state.
// Deallocate errors are logged and never block shutdown (spec.md §7).
func (p *Pool[T]) deallocateAndTombstone(slot *Slot[T]) {
	if obj, ok := slot.takeObjectForDeallocation(); ok {
		if err := p.allocator.Deallocate(obj); err != nil {
			p.logger.Warn().
				Str("pool", p.id).
				Err(err).
				Msg("deallocate failed; slot retired anyway")
		}
	}
	if slot.tombstone() {
		p.tombstoned.Add(1)
	}
}
