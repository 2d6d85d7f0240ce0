package op

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is the cancellation cause attached by Timeout.
var ErrTimeout = errors.New("operation timed out")

// Timeout bounds each call of fn to d. d <= 0 disables the bound.
//
// On expiry the returned error matches both ErrTimeout and
// context.DeadlineExceeded, whatever fn itself returned.
func Timeout[T any](d time.Duration, fn Func[T]) Func[T] {
	if d <= 0 {
		return fn
	}
	return func(ctx context.Context) (T, error) {
		tctx, cancel := context.WithTimeoutCause(ctx, d, ErrTimeout)
		defer cancel()

		v, err := fn(tctx)
		if err != nil && ctx.Err() == nil && errors.Is(context.Cause(tctx), ErrTimeout) {
			var zero T
			return zero, fmt.Errorf("%w after %s: %w", ErrTimeout, d, context.DeadlineExceeded)
		}
		return v, err
	}
}
