// Package clock provides the two monotonic time sources the pool's claim
// path and background controller rely on: a coarse, lock-free asynchronous
// clock for the hot path, and a precise synchronous fallback for deadline
// arithmetic that can't tolerate the async clock's sampling granularity.
package clock

import (
	"context"
	"sync/atomic"
	"time"
)

// Interval is how often the asynchronous clock resamples the precise
// source. Expiration boundary tests hinge on this value (see SPEC_FULL.md
// §4.1) — it is a deliberate precision/throughput trade-off, not a
// default chosen for convenience.
const Interval = 10 * time.Millisecond

// Source is anything that can report the current time as millis/nanos
// since an arbitrary but fixed epoch. Both Sync and Async implement it.
type Source interface {
	NowMillis() int64
	NowNanos() int64
}

// Sync reads the precise system clock on every call. Used where callers
// need finer resolution than Async's ~10ms granularity, e.g. the
// scheduler's scheduled-task deadlines.
type Sync struct{}

func (Sync) NowMillis() int64 { return time.Now().UnixMilli() }
func (Sync) NowNanos() int64  { return time.Now().UnixNano() }

// Async samples the precise clock on a fixed interval in the background
// and serves reads as plain atomic loads, trading ~10ms of precision for
// O(1) non-contending reads on the claim path.
type Async struct {
	millis atomic.Int64
	nanos  atomic.Int64
}

// NewAsync returns an Async clock pre-seeded with the current time. Run
// must be started (typically by a Scheduler under its reference count)
// before the 10ms sampling begins; reads before that return the seed.
func NewAsync() *Async {
	a := &Async{}
	now := time.Now()
	a.millis.Store(now.UnixMilli())
	a.nanos.Store(now.UnixNano())
	return a
}

// Run samples the system clock every Interval until ctx is canceled. It is
// meant to run as the body of a single dedicated goroutine ("the clock
// keeper"); on cancellation the last observed value is retained forever,
// matching the contract that readers never see time move backward.
func (a *Async) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			a.millis.Store(now.UnixMilli())
			a.nanos.Store(now.UnixNano())
		}
	}
}

func (a *Async) NowMillis() int64 { return a.millis.Load() }
func (a *Async) NowNanos() int64  { return a.nanos.Load() }
