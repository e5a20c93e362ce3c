package stormpot

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	n       atomic.Int64
	failing func(attempt int64) bool
}

func (c *counter) allocator() AllocatorFunc[int] {
	return AllocatorFunc[int]{
		AllocateFunc: func() (int, error) {
			n := c.n.Add(1)
			if c.failing != nil && c.failing(n) {
				return 0, assert.AnError
			}
			return int(n), nil
		},
		DeallocateFunc: func(int) error { return nil },
	}
}

func newTestPool(t *testing.T, size int, alloc Allocator[int], exp Expiration[int]) *Pool[int] {
	t.Helper()
	cfg := Config[int]{
		Size:       size,
		Allocator:  alloc,
		Expiration: exp,
		Scheduler:  NewScheduler(4, zerolog.Nop()),
	}
	p, err := NewPool(cfg)
	require.NoError(t, err)
	return p
}

// S1: two sequential claim/release cycles against a size-1 pool return the
// same underlying object, and allocCount stays at 1.
func TestPoolReusesSlotAcrossClaimRelease(t *testing.T) {
	c := &counter{}
	p := newTestPool(t, 1, c.allocator(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	l1, err := p.Claim(ctx)
	require.NoError(t, err)
	first := l1.Value()
	require.NoError(t, l1.Release(false))

	l2, err := p.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, l2.Value())
	require.NoError(t, l2.Release(false))

	assert.Equal(t, int64(1), p.Stats().AllocationAttempts)
}

// S2: once a slot's age exceeds its TTL, the next claim discards it and
// transparently retries onto a freshly allocated incarnation.
func TestPoolReallocatesOnExpiry(t *testing.T) {
	c := &counter{}
	exp, err := NewTimeExpiration[int](5 * time.Millisecond)
	require.NoError(t, err)
	p := newTestPool(t, 1, c.allocator(), exp)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	time.Sleep(20 * time.Millisecond)

	l, err := p.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, l.Release(false))

	assert.GreaterOrEqual(t, p.Stats().AllocationAttempts, int64(2))
}

// S5: an allocator that fails on every odd call surfaces an
// AllocationFailure on the first claim, then succeeds on the retry.
func TestPoolSurfacesAllocationFailureThenRecovers(t *testing.T) {
	c := &counter{failing: func(attempt int64) bool { return attempt%2 == 1 }}
	p := newTestPool(t, 1, c.allocator(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := p.Claim(ctx)
	var af *AllocationFailure
	require.ErrorAs(t, err, &af)

	require.Eventually(t, func() bool {
		l, err := p.Claim(ctx)
		if err != nil {
			return false
		}
		require.NoError(t, l.Release(false))
		return true
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(2), p.Stats().AllocationAttempts)
}

// S6: shrinking the target size retires surplus slots lazily as they pass
// through claim/release, eventually converging liveCount to the new target.
func TestPoolShrinksSurplusSlotsLazily(t *testing.T) {
	c := &counter{}
	p := newTestPool(t, 5, c.allocator(), nil)

	require.Eventually(t, func() bool {
		return p.Stats().LiveCount == 5
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.SetTargetSize(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 5; i++ {
		l, err := p.Claim(ctx)
		require.NoError(t, err)
		require.NoError(t, l.Release(false))
	}

	require.Eventually(t, func() bool {
		return p.Stats().LiveCount == 2
	}, time.Second, 5*time.Millisecond)
}

func TestPoolGrowAllocatesAdditionalSlots(t *testing.T) {
	c := &counter{}
	p := newTestPool(t, 1, c.allocator(), nil)

	require.NoError(t, p.SetTargetSize(3))

	require.Eventually(t, func() bool {
		return p.Stats().LiveCount == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), p.Stats().SlotsCreated)
}

func TestDoubleReleaseIsRejected(t *testing.T) {
	c := &counter{}
	p := newTestPool(t, 1, c.allocator(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	l, err := p.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, l.Release(false))

	err = l.Release(false)
	assert.ErrorIs(t, err, ErrIllegalState)
}

func TestClaimAfterShutdownReturnsErrPoolClosed(t *testing.T) {
	c := &counter{}
	p := newTestPool(t, 1, c.allocator(), nil)

	completion := p.Shutdown()
	require.True(t, completion.Await(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := p.Claim(ctx)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestShutdownTombstonesEverySlot(t *testing.T) {
	c := &counter{}
	p := newTestPool(t, 3, c.allocator(), nil)

	require.Eventually(t, func() bool {
		return p.Stats().LiveCount == 3
	}, time.Second, 5*time.Millisecond)

	completion := p.Shutdown()
	require.True(t, completion.Await(context.Background()))
	assert.Equal(t, int64(3), p.Stats().Tombstoned)
	assert.Equal(t, 0, p.Stats().LiveCount)
}

func TestClaimRespectsContextDeadlineWhenPoolExhausted(t *testing.T) {
	c := &counter{}
	p := newTestPool(t, 1, c.allocator(), nil)

	ctx1, cancel1 := context.WithTimeout(context.Background(), time.Second)
	defer cancel1()
	l, err := p.Claim(ctx1)
	require.NoError(t, err)
	defer l.Release(false)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = p.Claim(ctx2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// Dead-queue draining must run on the shared Scheduler's maxThreads-bounded
// worker pool rather than on a dedicated goroutine per pool, so allocation
// concurrency is amortised across every pool bound to the same Scheduler
// (spec.md §1's "amortises timekeeping and worker threads across multiple
// pool instances").
func TestDeadQueueDrainIsBoundedByScheduler(t *testing.T) {
	sched := NewScheduler(2, zerolog.Nop())

	var inFlight, maxSeen atomic.Int64
	slowAllocator := func() AllocatorFunc[int] {
		return AllocatorFunc[int]{
			AllocateFunc: func() (int, error) {
				n := inFlight.Add(1)
				for {
					cur := maxSeen.Load()
					if n <= cur || maxSeen.CompareAndSwap(cur, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
				return 1, nil
			},
			DeallocateFunc: func(int) error { return nil },
		}
	}

	for i := 0; i < 3; i++ {
		cfg := Config[int]{
			Size:                 4,
			Allocator:            slowAllocator(),
			Scheduler:            sched,
			AllocatorConcurrency: 4,
		}
		_, err := NewPool(cfg)
		require.NoError(t, err)
	}

	time.Sleep(300 * time.Millisecond)
	assert.LessOrEqual(t, maxSeen.Load(), int64(2),
		"concurrent allocations across pools sharing a Scheduler must never exceed its maxThreads")
}
