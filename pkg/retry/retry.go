// Package retry provides a fixed-interval poll primitive for waiting on
// vendor-side async effects. Failed vendor calls are never retried
// automatically; callers surface the failure instead.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrPollPending signals that the polled condition has not happened yet and
// the poll should keep waiting.
var ErrPollPending = errors.New("condition not yet met")

// Poll calls fn at a fixed interval until it returns a result, a terminal
// error, or the timeout elapses. fn reports "not yet" by returning
// ErrPollPending (possibly wrapped). This is a wait-for-async-side-effect
// primitive, not retry-on-failure: any other error stops the poll.
func Poll[T any](ctx context.Context, timeout, interval time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	deadline := time.Now().Add(timeout)

	for {
		r, err := fn(ctx)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ErrPollPending) {
			return zero, err
		}
		if time.Now().Add(interval).After(deadline) {
			return zero, err
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
