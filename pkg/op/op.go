// Package op defines the wrapped-operation shape shared by pacer's wrappers
// and the two trivial sequencing wrappers (Repeat, Timeout).
//
// Wrappers compose by nesting:
//
//	run := op.Repeat(op.Infinite, 0, clk,
//		natural.Wrap(sched, clk,
//			throttle.Wrap(th, op.Timeout(time.Minute, job))))
package op

import "context"

// Func is an operation that may block and may fail.
// Wrappers never inspect T.
type Func[T any] func(ctx context.Context) (T, error)

// Outcome classifies a call that did not fail.
type Outcome uint8

const (
	// Completed means the wrapped operation ran and returned a value.
	Completed Outcome = iota
	// Suppressed means the call was dropped by an admission policy and the
	// wrapped operation never ran.
	Suppressed
	// Superseded means the call was cancelled because a newer call replaced it.
	Superseded
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Suppressed:
		return "suppressed"
	case Superseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Result carries a value plus how it came about. Value is the zero value
// unless Outcome is Completed.
type Result[T any] struct {
	Value   T
	Outcome Outcome
}

// Ok reports whether the wrapped operation produced Value.
func (r Result[T]) Ok() bool { return r.Outcome == Completed }

// Done wraps v as a completed result.
func Done[T any](v T) Result[T] { return Result[T]{Value: v, Outcome: Completed} }

// NoResult returns an empty result with the given outcome.
func NoResult[T any](o Outcome) Result[T] { return Result[T]{Outcome: o} }
