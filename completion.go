package stormpot

import (
	"context"
	"sync"
)

// Completion is returned by Pool.Shutdown and signaled once liveCount has
// reached zero and every slot has been tombstoned (spec.md §4.6/§8
// property 3).
type Completion struct {
	done chan struct{}
	once sync.Once
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) signal() {
	c.once.Do(func() { close(c.done) })
}

// Await blocks until shutdown completes or ctx is done, returning true in
// the former case and false in the latter.
func (c *Completion) Await(ctx context.Context) bool {
	select {
	case <-c.done:
		return true
	case <-ctx.Done():
		return false
	}
}
