package stormpot

import (
	"context"
	"time"
)

// Timeout returns a context carrying a deadline d from now, the idiomatic
// Go equivalent of spec.md §6's Timeout(value, unit) tuple. The returned
// cancel function should be deferred by the caller; Claim and
// Completion.Await also accept a plain context.Context directly for
// callers that already have one (e.g. one derived from an incoming
// request).
//
//	ctx, cancel := stormpot.Timeout(50 * time.Millisecond)
//	defer cancel()
//	lease, err := pool.Claim(ctx)
func Timeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
