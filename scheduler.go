package stormpot

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nameliyang/stormpot-go/internal/clock"
	"github.com/nameliyang/stormpot-go/internal/taskstack"
)

// joinGracePeriod bounds how long DecrementReferences waits for the
// clock-keeper and controller goroutines to exit before treating the
// stall as a programmer/library error (SPEC_FULL.md §9's "double-join"
// note, re-expressed for Go: one absorbed wait, then fail loud).
const joinGracePeriod = 5 * time.Second

// Scheduler is the shared background engine: one clock keeper goroutine
// plus one controller goroutine, amortised across every Pool bound to it
// (spec.md §1/§4.5/§5). Pools reference a Scheduler via Config.Scheduler;
// the zero value is never usable — construct with NewScheduler or use
// Default().
type Scheduler struct {
	id         uuid.UUID
	logger     zerolog.Logger
	maxThreads int64

	syncClock  clock.Sync
	asyncClock *clock.Async
	sem        *semaphore.Weighted

	stack *taskstack.Stack[*schedTask]
	wake  chan struct{}

	mu       sync.Mutex
	refCount int
	ctx      context.Context
	cancel   context.CancelFunc
	eg       *errgroup.Group

	controllerRunning atomic.Bool
}

// NewScheduler constructs a Scheduler bounding its immediate-task
// dispatch to maxThreads concurrent goroutines (0 or negative defaults to
// runtime.NumCPU(), matching spec.md §4.5's ProcessController default).
func NewScheduler(maxThreads int, logger zerolog.Logger) *Scheduler {
	if maxThreads <= 0 {
		maxThreads = runtime.NumCPU()
	}
	s := &Scheduler{
		id:         uuid.New(),
		logger:     logger,
		maxThreads: int64(maxThreads),
		asyncClock: clock.NewAsync(),
		sem:        semaphore.NewWeighted(int64(maxThreads)),
		wake:       make(chan struct{}, 1),
	}
	bootstrap := taskstack.NewNode(&schedTask{kind: kindBootstrap, work: s.ensureControllerRunning})
	bootstrap.Foreground = true
	s.stack = taskstack.NewWithHead(bootstrap)
	return s
}

var (
	defaultScheduler atomic.Pointer[Scheduler]
	defaultOnce      sync.Once
)

// Default returns the lazily-initialised, process-wide BackgroundScheduler
// (spec.md §5/§6). Safe for concurrent use.
func Default() *Scheduler {
	if s := defaultScheduler.Load(); s != nil {
		return s
	}
	defaultOnce.Do(func() {
		defaultScheduler.CompareAndSwap(nil, NewScheduler(runtime.NumCPU(), zerolog.Nop()))
	})
	return defaultScheduler.Load()
}

// SetDefault replaces the process-wide default scheduler. Pools already
// bound to the previous default are unaffected (spec.md §5).
func SetDefault(s *Scheduler) {
	if s == nil {
		panic("stormpot: SetDefault called with nil scheduler")
	}
	defaultScheduler.Store(s)
}

// IncrementReferences starts the clock keeper and controller the first
// time a caller references this scheduler, and is a no-op counter bump
// otherwise (spec.md §5).
func (s *Scheduler) IncrementReferences() {
	s.mu.Lock()

	s.refCount++
	if s.refCount != 1 {
		s.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.ctx = ctx
	s.cancel = cancel
	s.eg = &errgroup.Group{}
	s.eg.Go(func() error {
		s.asyncClock.Run(ctx)
		return nil
	})
	// ensureControllerRunning takes s.mu itself, so it runs after unlocking.
	s.mu.Unlock()
	s.ensureControllerRunning()
}

// DecrementReferences joins the clock keeper and controller when the
// reference count reaches zero.
func (s *Scheduler) DecrementReferences() error {
	s.mu.Lock()
	if s.refCount == 0 {
		s.mu.Unlock()
		return illegalState("decrementReferences called with refCount already 0")
	}
	s.refCount--
	last := s.refCount == 0
	cancel := s.cancel
	eg := s.eg
	s.mu.Unlock()

	if !last {
		return nil
	}

	cancel()
	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()

	select {
	case <-done:
		s.controllerRunning.Store(false)
		return nil
	case <-time.After(joinGracePeriod):
		// One interrupt (the ctx cancellation) has already been issued and
		// absorbed by the select; a goroutine still not exiting after the
		// grace period is a leak, not a retryable condition.
		return illegalState("scheduler goroutines did not join within %s", joinGracePeriod)
	}
}

// clockSource returns the async clock used on the hot path (claim-time
// expiration checks, slot publication). Scheduled-task deadline arithmetic
// reads s.syncClock directly instead.
func (s *Scheduler) clockSource() clock.Source { return s.asyncClock }
