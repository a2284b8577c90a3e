package eth

import (
	"context"
	"time"
)

// Bounded runs fn under a deadline of timeout and returns when either fn
// finishes or the deadline passes, even if fn ignores its context. On expiry
// the returned error is context.DeadlineExceeded (or the parent's error).
// A non-positive timeout only inherits ctx.
func Bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
