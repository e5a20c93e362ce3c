package stormpot

import (
	"container/heap"
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nameliyang/stormpot-go/internal/taskstack"
)

type schedTaskKind int

const (
	kindImmediate schedTaskKind = iota
	kindScheduled
	kindBootstrap
)

// schedTask is one item on the scheduler's shared TaskStack (spec.md §3's
// Task: Immediate/Scheduled/StartController variants).
type schedTask struct {
	kind       schedTaskKind
	work       func()
	delay      time.Duration
	nextFireAt int64 // nanos, only meaningful for kindScheduled
	canceled   boolFlag
}

type boolFlag struct{ v atomic.Bool }

func (f *boolFlag) set()        { f.v.Store(true) }
func (f *boolFlag) isSet() bool { return f.v.Load() }

// Scheduled is a handle to a recurring task, returned by
// Scheduler.pushScheduled, that lets the owner cancel future firings.
type Scheduled struct {
	task *schedTask
}

// Cancel marks the task dead. The controller skips dead scheduled tasks
// on dispatch rather than removing them from the heap eagerly (spec.md
// §5's cancellation model).
func (s *Scheduled) Cancel() { s.task.canceled.set() }

// pushImmediate enqueues work to run once, as soon as the controller's
// next cycle picks it up.
func (s *Scheduler) pushImmediate(work func()) {
	n := taskstack.NewNode(&schedTask{kind: kindImmediate, work: work})
	s.evictForeground(s.stack.Push(n))
}

// pushScheduled enqueues a recurring task that first fires after delay,
// and thereafter every delay, until canceled.
func (s *Scheduler) pushScheduled(delay time.Duration, work func()) *Scheduled {
	t := &schedTask{
		kind:       kindScheduled,
		work:       work,
		delay:      delay,
		nextFireAt: s.syncClock.NowNanos() + delay.Nanoseconds(),
	}
	n := taskstack.NewNode(t)
	s.evictForeground(s.stack.Push(n))
	return &Scheduled{task: t}
}

// evictForeground implements the bootstrap path from spec.md §4.4/§9: if
// the node displaced from the head was the foreground sentinel, the
// pusher must run it inline. The sentinel's work (ensureControllerRunning)
// is idempotent, so this is safe even if the controller is already up.
func (s *Scheduler) evictForeground(evicted *taskstack.Node[*schedTask]) {
	if evicted != nil && evicted.Foreground {
		evicted.Value.work()
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ensureControllerRunning is the bootstrap task's Work. It is safe to
// call from any goroutine, any number of times.
func (s *Scheduler) ensureControllerRunning() {
	if !s.controllerRunning.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	eg := s.eg
	s.mu.Unlock()
	if ctx == nil || eg == nil {
		// No one has called IncrementReferences yet; nothing to attach the
		// controller goroutine's lifetime to. Roll back and let the next
		// real reference holder's bootstrap attempt start it.
		s.controllerRunning.Store(false)
		return
	}
	eg.Go(func() error {
		s.runController(ctx)
		return nil
	})
}

// taskHeap orders pending scheduled tasks by next fire time; it is only
// ever touched by the controller goroutine, so needs no synchronisation
// of its own.
type taskHeap []*schedTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].nextFireAt < h[j].nextFireAt }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)         { *h = append(*h, x.(*schedTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// runController is the ProcessController main loop (spec.md §4.5). It
// runs until ctx is canceled by the last DecrementReferences.
func (s *Scheduler) runController(ctx context.Context) {
	defer s.controllerRunning.Store(false)
	defer func() {
		if r := recover(); r != nil {
			// Controller death is fatal to the scheduler (spec.md §7): log
			// with full diagnostics, then re-panic rather than limping
			// along with no controller.
			s.logger.Error().
				Str("scheduler", s.id.String()).
				Interface("panic", r).
				Msg("controller goroutine panicked; re-panicking, scheduler is dead")
			panic(r)
		}
	}()

	pending := &taskHeap{}
	heap.Init(pending)

	// workers tracks in-flight dispatched tasks so the controller can join
	// them before it exits.
	var workers errgroup.Group

	dispatch := func(t *schedTask) {
		if t.canceled.isSet() {
			return
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		workers.Go(func() error {
			defer s.sem.Release(1)
			t.work()
			return nil
		})
	}

	for {
		// Step 1: atomically take the current task stack, reinstalling a
		// fresh bootstrap sentinel so a future retirement/restart cycle
		// has something to bootstrap from.
		fresh := taskstack.NewNode(&schedTask{kind: kindBootstrap, work: s.ensureControllerRunning})
		fresh.Foreground = true
		taken := s.stack.TakeAll(fresh)

		// Step 2: partition into immediate (dispatch now) vs scheduled
		// (insert into the heap).
		for n := taken; n != nil; n = n.Next() {
			t := n.Value
			switch t.kind {
			case kindImmediate:
				dispatch(t)
			case kindScheduled:
				heap.Push(pending, t)
			case kindBootstrap:
				// the sentinel installed by the previous cycle's TakeAll;
				// later pushes link on top of it, so it ends every taken
				// list. Nothing to do.
			}
		}

		// Step 3: pop and dispatch every scheduled task whose deadline has
		// passed, rescheduling it for its next fire time.
		now := s.syncClock.NowNanos()
		for pending.Len() > 0 && (*pending)[0].nextFireAt <= now {
			t := heap.Pop(pending).(*schedTask)
			if t.canceled.isSet() {
				continue
			}
			dispatch(t)
			t.nextFireAt = now + t.delay.Nanoseconds()
			heap.Push(pending, t)
		}

		// Step 4: park until the earliest scheduled deadline or a new push.
		var timer *time.Timer
		var timerC <-chan time.Time
		if pending.Len() > 0 {
			d := time.Duration((*pending)[0].nextFireAt-now) * time.Nanosecond
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			_ = workers.Wait()
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
	}
}
