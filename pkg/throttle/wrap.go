package throttle

import (
	"context"
	"errors"
	"fmt"

	"pacer/pkg/logx"
	"pacer/pkg/op"
)

// Wrap binds fn to t. Every invocation of the returned func is one call
// counted against t's windows.
func Wrap[T any](t *Throttler, fn op.Func[T]) op.Func[op.Result[T]] {
	return func(ctx context.Context) (op.Result[T], error) {
		return Call(ctx, t, fn)
	}
}

// Call runs fn as one throttled call.
//
// A call dropped by Ignore returns a Suppressed result with a nil error, and
// one replaced with SuppressReplaced set returns Superseded. A replaced call without
// SuppressReplaced fails with an error matching both context.Canceled and
// ErrSuperseded. Cancellation of ctx itself is never reclassified, and neither
// is an error fn returns for any reason other than the throttler's cancel.
func Call[T any](ctx context.Context, t *Throttler, fn op.Func[T]) (op.Result[T], error) {
	if err := ctx.Err(); err != nil {
		return op.Result[T]{}, err
	}

	callCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	d, h := t.begin(t.clk.Now(), cancel)
	switch d.Action {
	case Proceed:
		t.proceeded.Add(1)
	case Reject:
		t.suppressed.Add(1)
		t.log.Debug("throttle: call suppressed", logx.Duration("window_in", d.Wait))
		return op.NoResult[T](op.Suppressed), nil
	case ProceedAfter:
		t.delayed.Add(1)
		t.log.Trace("throttle: call delayed", logx.Duration("wait", d.Wait))
		if err := t.clk.Sleep(ctx, d.Wait); err != nil {
			return op.Result[T]{}, err
		}
	case Preempt:
		if p := d.Preempted; p != nil {
			t.preempted.Add(1)
			t.log.Debug("throttle: preempting in-flight call",
				logx.Uint64("preempted", p.id),
				logx.Uint64("call", h.id),
			)
			p.cancel(ErrSuperseded)
		}
	}

	if h == nil {
		v, err := fn(ctx)
		if err != nil {
			return op.Result[T]{}, err
		}
		return op.Done(v), nil
	}

	v, err := fn(callCtx)
	t.OnSettled(h)
	self := t.WasSelfCancelled(h)
	if err == nil {
		return op.Done(v), nil
	}
	if self && ctx.Err() == nil && errors.Is(err, context.Canceled) && errors.Is(context.Cause(callCtx), ErrSuperseded) {
		if t.cfg.SuppressReplaced {
			return op.NoResult[T](op.Superseded), nil
		}
		return op.Result[T]{}, fmt.Errorf("%w: %w", context.Canceled, ErrSuperseded)
	}
	return op.Result[T]{}, err
}
