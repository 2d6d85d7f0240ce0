package throttle

import (
	"fmt"
	"strings"
	"time"
)

// Policy selects what happens to a call that lands in a future window.
type Policy uint8

const (
	Wait Policy = iota
	Ignore
	Replace
)

func (p Policy) String() string {
	switch p {
	case Wait:
		return "wait"
	case Ignore:
		return "ignore"
	case Replace:
		return "replace"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

func (p Policy) valid() bool { return p <= Replace }

// ParsePolicy accepts "wait", "ignore" or "replace" (case-insensitive).
// An empty string selects Wait.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wait":
		return Wait, nil
	case "ignore":
		return Ignore, nil
	case "replace":
		return Replace, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy %q (use wait, ignore or replace)", ErrInvalidConfig, s)
	}
}

// Action is the admission verdict for one call.
type Action uint8

const (
	// Proceed runs the call now.
	Proceed Action = iota
	// ProceedAfter runs the call once Decision.Wait has elapsed.
	ProceedAfter
	// Reject drops the call.
	Reject
	// Preempt runs the call now and cancels Decision.Preempted, if any.
	Preempt
)

func (a Action) String() string {
	switch a {
	case Proceed:
		return "proceed"
	case ProceedAfter:
		return "proceed_after"
	case Reject:
		return "reject"
	case Preempt:
		return "preempt"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Decision is returned by Throttler.Admit.
type Decision struct {
	Action Action

	// Wait is how far in the future the call's window opens. It is zero for
	// Proceed and positive otherwise (Reject and Preempt report the wait the
	// call skipped).
	Wait time.Duration

	// Preempted is the in-flight call to cancel under Preempt; nil when
	// nothing is in flight.
	Preempted *Handle
}
