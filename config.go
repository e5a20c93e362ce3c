package stormpot

import (
	"time"

	"github.com/rs/zerolog"
)

// defaultTTLMin and defaultTTLMax match spec.md §6: a TimeExpiration of
// 8–10 minutes with jitter is the default when the caller supplies none.
// The jitter is applied once, when Validate fills in the default, via a
// per-pool random offset
// rather than per-claim, so a given pool's default expiration is a fixed
// TTL for its lifetime (simpler to reason about, and sufficient to avoid
// thundering-herd re-allocation across many pools started at once).
const (
	defaultTTLMin = 8 * time.Minute
	defaultTTLMax = 10 * time.Minute
)

// Allocator is the user-supplied collaborator that constructs and
// destroys pooled objects. Allocate may fail; Deallocate is best-effort
// and its errors are logged, never surfaced to callers or allowed to
// block shutdown.
type Allocator[T any] interface {
	Allocate() (T, error)
	Deallocate(obj T) error
}

// AllocatorFunc pair adapts plain functions to Allocator for simple cases.
type AllocatorFunc[T any] struct {
	AllocateFunc   func() (T, error)
	DeallocateFunc func(T) error
}

func (f AllocatorFunc[T]) Allocate() (T, error) { return f.AllocateFunc() }
func (f AllocatorFunc[T]) Deallocate(obj T) error {
	if f.DeallocateFunc == nil {
		return nil
	}
	return f.DeallocateFunc(obj)
}

// Config configures a Pool. Size, Allocator are required; everything else
// has a spec-mandated default.
type Config[T any] struct {
	// Size is the target number of live slots. Must be >= 1.
	Size int

	// Allocator constructs and destroys pooled objects. Required.
	Allocator Allocator[T]

	// Expiration decides when a live slot should be discarded and
	// re-allocated. Defaults to TimeExpiration(8–10 minutes, jittered).
	Expiration Expiration[T]

	// Scheduler is the shared background scheduler this pool's
	// allocation/reallocation/deallocation work runs on: dead-queue drains are dispatched as tasks on its task stack and
	// run on its maxThreads-bounded worker pool, alongside every other
	// pool bound to the same Scheduler. Defaults to the process-wide
	// Default().
	Scheduler *Scheduler

	// AllocatorConcurrency is how many drain tasks this pool may have in
	// flight on its Scheduler at once. Defaults to 1 (the spec's minimal
	// "Allocator worker(s)" share). It bounds this pool's own
	// concurrency, not the Scheduler's: the Scheduler's own maxThreads
	// still caps total concurrent dispatch across every pool sharing it.
	AllocatorConcurrency int

	// Logger receives structured diagnostics. Defaults to a no-op
	// logger — this library never writes to a global/ambient logger.
	// A nil Logger is replaced by Validate with zerolog.Nop().
	Logger *zerolog.Logger
}

// Validate checks the configuration and fills in defaults in place. It
// mirrors spec.md §7's configuration rejection rules.
func (c *Config[T]) Validate() error {
	if c.Size < 1 {
		return illegalArgument("size must be >= 1, got %d", c.Size)
	}
	if c.Allocator == nil {
		return illegalArgument("allocator must not be nil")
	}
	if c.Expiration == nil {
		ttl := defaultTTLMin + time.Duration(jitterFraction()*float64(defaultTTLMax-defaultTTLMin))
		exp, err := NewTimeExpiration[T](ttl)
		if err != nil {
			return err
		}
		c.Expiration = exp
	}
	if c.Scheduler == nil {
		c.Scheduler = Default()
	}
	if c.AllocatorConcurrency < 1 {
		c.AllocatorConcurrency = 1
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return nil
}
