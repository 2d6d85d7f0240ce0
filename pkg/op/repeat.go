package op

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pacer/pkg/clock"
)

// Infinite makes Repeat run until the context ends or the operation fails.
const Infinite = -1

var ErrInvalidCount = errors.New("repeat: count must be >= 0 or Infinite")

// Repeat returns an operation that calls fn n times in sequence, sleeping
// pause between calls, and returns the last result.
//
// With n == Infinite it only returns on error (including ctx cancellation).
// n == 0 returns the zero value without calling fn.
func Repeat[T any](n int, pause time.Duration, clk clock.Clock, fn Func[T]) Func[T] {
	clk = clock.OrSystem(clk)
	return func(ctx context.Context) (T, error) {
		var last T
		if n < 0 && n != Infinite {
			return last, fmt.Errorf("%w (got %d)", ErrInvalidCount, n)
		}
		for i := 0; n == Infinite || i < n; i++ {
			if i > 0 {
				if err := clk.Sleep(ctx, pause); err != nil {
					return last, err
				}
			}
			// Infinite loops around fn that never block still stop on cancel.
			if err := ctx.Err(); err != nil {
				return last, err
			}
			v, err := fn(ctx)
			if err != nil {
				return v, err
			}
			last = v
		}
		return last, nil
	}
}
