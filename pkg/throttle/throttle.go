package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pacer/pkg/clock"
	"pacer/pkg/logx"
)

var (
	// ErrInvalidConfig is wrapped by every configuration error.
	ErrInvalidConfig = errors.New("throttle: invalid config")

	// ErrSuperseded is the cancellation cause given to a call that a newer
	// call replaced.
	ErrSuperseded = errors.New("throttle: superseded by a newer call")
)

type Config struct {
	// Limit is the number of calls that may start per window. Must be > 0.
	Limit int
	// Interval is the window length. Must be > 0.
	Interval time.Duration
	Policy   Policy

	// SuppressReplaced turns a replaced call's cancellation into an
	// op.Superseded result instead of an error. Only valid with Replace.
	SuppressReplaced bool

	// Clock defaults to the system clock.
	Clock clock.Clock
	Log   logx.Logger
}

func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("%w: limit must be > 0 (got %d)", ErrInvalidConfig, c.Limit)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0 (got %s)", ErrInvalidConfig, c.Interval)
	}
	if !c.Policy.valid() {
		return fmt.Errorf("%w: unknown policy %s", ErrInvalidConfig, c.Policy)
	}
	if c.SuppressReplaced && c.Policy != Replace {
		return fmt.Errorf("%w: suppress_replaced requires the replace policy (got %s)", ErrInvalidConfig, c.Policy)
	}
	return nil
}

// Handle identifies one admitted call under the Replace policy.
type Handle struct {
	id     uint64
	cancel context.CancelCauseFunc
}

func (h *Handle) ID() uint64 { return h.id }

// Stats are cumulative admission counters.
type Stats struct {
	Proceeded  uint64
	Delayed    uint64
	Suppressed uint64
	Preempted  uint64
}

// Throttler holds the window state for one operation binding.
// It is safe for concurrent use.
type Throttler struct {
	cfg Config
	clk clock.Clock
	log logx.Logger

	attr Attributor

	mu       sync.Mutex
	window   Window
	inflight *Handle
	seq      uint64

	proceeded  atomic.Uint64
	delayed    atomic.Uint64
	suppressed atomic.Uint64
	preempted  atomic.Uint64
}

func New(cfg Config) (*Throttler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Throttler{
		cfg: cfg,
		clk: clock.OrSystem(cfg.Clock),
		log: cfg.Log.OrNop(),
	}, nil
}

func (t *Throttler) Config() Config { return t.cfg }

func (t *Throttler) Stats() Stats {
	return Stats{
		Proceeded:  t.proceeded.Load(),
		Delayed:    t.delayed.Load(),
		Suppressed: t.suppressed.Load(),
		Preempted:  t.preempted.Load(),
	}
}

// Admit attributes a call arriving at now to a window and returns the verdict.
// Under Replace, Decision.Preempted is the call in flight at that moment; Admit
// does not register the new call, so callers driving the state machine by hand
// are responsible for cancelling the predecessor.
func (t *Throttler) Admit(now time.Time) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.admitLocked(now)
}

func (t *Throttler) admitLocked(now time.Time) Decision {
	wait := t.window.Advance(now, t.cfg.Limit, t.cfg.Interval)
	if wait <= 0 {
		return Decision{Action: Proceed}
	}
	switch t.cfg.Policy {
	case Ignore:
		return Decision{Action: Reject, Wait: wait}
	case Replace:
		return Decision{Action: Preempt, Wait: wait, Preempted: t.inflight}
	default:
		return Decision{Action: ProceedAfter, Wait: wait}
	}
}

// begin admits a call and, under Replace, registers it as the in-flight call.
// Marking the predecessor happens under the same lock as the swap so that a
// predecessor settling concurrently always observes its mark.
func (t *Throttler) begin(now time.Time, cancel context.CancelCauseFunc) (Decision, *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.admitLocked(now)
	if t.cfg.Policy != Replace {
		return d, nil
	}
	t.seq++
	h := &Handle{id: t.seq, cancel: cancel}
	if d.Action == Preempt && d.Preempted != nil {
		t.attr.Mark(d.Preempted.id)
	}
	t.inflight = h
	return d, h
}

// OnSettled clears the in-flight slot if it still holds h.
func (t *Throttler) OnSettled(h *Handle) {
	if h == nil {
		return
	}
	t.mu.Lock()
	if t.inflight == h {
		t.inflight = nil
	}
	t.mu.Unlock()
}

// WasSelfCancelled reports (once) whether the throttler cancelled h.
func (t *Throttler) WasSelfCancelled(h *Handle) bool {
	if h == nil {
		return false
	}
	return t.attr.Consume(h.id)
}

func (t *Throttler) inFlight() *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight
}
