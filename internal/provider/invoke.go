package provider

import (
	"context"
	"fmt"
	"time"
)

// Invoke runs fn under a hard timeout. If fn ignores cancellation it is
// abandoned when the deadline passes and its eventual result is discarded.
// A panic inside fn is returned as a KindPanic error. Errors are returned in
// their structured form attributed to name.
func Invoke[T any](ctx context.Context, name string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: NewError(name, KindPanic, fmt.Errorf("%v", rec))}
			}
		}()
		v, err := fn(ctx)
		done <- result{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, Classify(name, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return zero, Classify(name, res.err)
		}
		return res.val, nil
	}
}
