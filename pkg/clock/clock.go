// Package clock abstracts "now" and sleeping so time-dependent code can be
// driven deterministically in tests.
//
// Production code uses System(). Tests use a Manual clock and move time
// forward explicitly:
//
//	clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
//	go func() { _ = clk.Sleep(ctx, time.Second) }()
//	clk.BlockUntil(1)
//	clk.Advance(time.Second) // wakes the sleeper
package clock

import (
	"context"
	"time"
)

// Clock supplies the current time and a context-aware sleep.
type Clock interface {
	Now() time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first.
	// It returns ctx.Err() when interrupted. d <= 0 returns immediately.
	Sleep(ctx context.Context, d time.Duration) error
}

// System returns the wall clock.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OrSystem returns c, or the system clock when c is nil.
func OrSystem(c Clock) Clock {
	if c == nil {
		return System()
	}
	return c
}

// InLocation returns a Clock whose Now reports time in loc.
// A nil loc leaves c unchanged.
func InLocation(c Clock, loc *time.Location) Clock {
	c = OrSystem(c)
	if loc == nil {
		return c
	}
	return located{Clock: c, loc: loc}
}

type located struct {
	Clock
	loc *time.Location
}

func (l located) Now() time.Time { return l.Clock.Now().In(l.loc) }
