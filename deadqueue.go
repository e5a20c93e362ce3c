package stormpot

import "github.com/nameliyang/stormpot-go/internal/taskstack"

// deadQueue is the lock-free stack of slots awaiting (re)allocation or
// deallocation (spec.md §4.4), specialised from the shared
// taskstack.Stack discipline to carry *Slot[T] payloads directly rather
// than closures — whatever drains it acts on a slot according to its own
// state (DEAD-with-poolable means "deallocate then re-allocate",
// DEAD-without-poolable means "allocate").
//
// Unlike the scheduler's TaskStack, the dead queue has no foreground/
// bootstrap sentinel and no wake channel of its own: it is drained by
// tasks dispatched through the owning Pool's Scheduler (allocator_worker.go),
// not by a dedicated per-pool goroutine blocking on it directly.
type deadQueue[T any] struct {
	stack *taskstack.Stack[*Slot[T]]
}

func newDeadQueue[T any]() *deadQueue[T] {
	return &deadQueue[T]{stack: taskstack.New[*Slot[T]]()}
}

// push enqueues slot for the next scheduled drain.
func (q *deadQueue[T]) push(slot *Slot[T]) {
	q.stack.Push(taskstack.NewNode(slot))
}

// tryPop removes and returns one slot without blocking, or false if the
// queue is currently empty.
func (q *deadQueue[T]) tryPop() (*Slot[T], bool) {
	if n := q.stack.Pop(); n != nil {
		return n.Value, true
	}
	return nil, false
}

// nonEmpty reports whether the queue held at least one slot at some point
// during the call, without removing anything. Used after a drain task
// finishes to decide whether a push raced with the task's last tryPop.
func (q *deadQueue[T]) nonEmpty() bool {
	return q.stack.Peek() != nil
}

// drainAll removes every currently queued slot without blocking. Pool.Shutdown
// does not call this: it routes every slot through pushDead like any other
// caller, so shutdown teardown runs through the same scheduled-drain path as
// the rest of the pool instead of a one-shot sweep.
func (q *deadQueue[T]) drainAll() []*Slot[T] {
	var out []*Slot[T]
	for n := q.stack.Pop(); n != nil; n = q.stack.Pop() {
		out = append(out, n.Value)
	}
	return out
}
