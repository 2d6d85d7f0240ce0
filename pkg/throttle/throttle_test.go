package throttle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pacer/pkg/clock"
	"pacer/pkg/op"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func mustNew(t *testing.T, cfg Config) *Throttler {
	t.Helper()
	th, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return th
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid wait", Config{Limit: 1, Interval: time.Second}, true},
		{"valid replace suppressed", Config{Limit: 1, Interval: time.Second, Policy: Replace, SuppressReplaced: true}, true},
		{"zero limit", Config{Limit: 0, Interval: time.Second}, false},
		{"negative interval", Config{Limit: 1, Interval: -time.Second}, false},
		{"zero interval", Config{Limit: 1}, false},
		{"unknown policy", Config{Limit: 1, Interval: time.Second, Policy: Policy(9)}, false},
		{"suppress with wait", Config{Limit: 1, Interval: time.Second, SuppressReplaced: true}, false},
		{"suppress with ignore", Config{Limit: 1, Interval: time.Second, Policy: Ignore, SuppressReplaced: true}, false},
	}
	for _, tt := range tests {
		err := tt.cfg.Validate()
		if tt.ok && err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: err = %v, want ErrInvalidConfig", tt.name, err)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()
	tests := map[string]Policy{"": Wait, "WAIT": Wait, " ignore ": Ignore, "Replace": Replace}
	for in, want := range tests {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("drop"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("ParsePolicy(drop) err = %v, want ErrInvalidConfig", err)
	}
}

func TestWindowAdvance(t *testing.T) {
	t.Parallel()
	var w Window
	const limit = 3
	steps := []struct {
		at   time.Duration
		want time.Duration
	}{
		{0, 0},
		{100 * time.Millisecond, -100 * time.Millisecond},
		{200 * time.Millisecond, -200 * time.Millisecond},
		{300 * time.Millisecond, 700 * time.Millisecond},
		// A call after the window (and its successor) has lapsed starts fresh.
		{3 * time.Second, 0},
	}
	for i, s := range steps {
		if got := w.Advance(t0.Add(s.at), limit, time.Second); got != s.want {
			t.Fatalf("step %d: wait = %s, want %s", i, got, s.want)
		}
	}
	if w.Count != 1 || !w.Anchor.Equal(t0.Add(3*time.Second)) {
		t.Fatalf("window = %+v, want fresh window at t0+3s", w)
	}
}

func TestAdmitQueuesIntoSuccessiveWindows(t *testing.T) {
	t.Parallel()
	th := mustNew(t, Config{Limit: 2, Interval: time.Second})
	want := []time.Duration{0, 0, time.Second, time.Second, 2 * time.Second, 2 * time.Second}
	for i, w := range want {
		d := th.Admit(t0)
		if d.Wait != w {
			t.Fatalf("call %d: wait = %s, want %s", i, d.Wait, w)
		}
		wantAction := ProceedAfter
		if w == 0 {
			wantAction = Proceed
		}
		if d.Action != wantAction {
			t.Fatalf("call %d: action = %s, want %s", i, d.Action, wantAction)
		}
	}
}

func TestAdmitPolicies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		policy Policy
		want   Action
	}{
		{Wait, ProceedAfter},
		{Ignore, Reject},
		{Replace, Preempt},
	}
	for _, tt := range tests {
		th := mustNew(t, Config{Limit: 1, Interval: time.Second, Policy: tt.policy})
		if d := th.Admit(t0); d.Action != Proceed {
			t.Fatalf("%s: first call action = %s, want proceed", tt.policy, d.Action)
		}
		d := th.Admit(t0.Add(400 * time.Millisecond))
		if d.Action != tt.want || d.Wait != 600*time.Millisecond {
			t.Fatalf("%s: decision = %+v, want %s after 600ms", tt.policy, d, tt.want)
		}
	}
}

func TestWaitSpreadsCallsAcrossWindows(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(t0)
	th := mustNew(t, Config{Limit: 5, Interval: time.Second, Clock: clk})

	type run struct {
		idx int
		at  time.Time
	}
	runs := make(chan run, 20)
	errs := make(chan error, 20)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		call := Wrap(th, func(ctx context.Context) (int, error) {
			runs <- run{idx: i, at: clk.Now()}
			return i, nil
		})
		go func() {
			res, err := call(ctx)
			if err == nil && (!res.Ok() || res.Value != i) {
				err = errors.New("unexpected result")
			}
			errs <- err
		}()
		// Keep arrival order deterministic: the first window runs inline,
		// everything later parks in Sleep.
		if i < 5 {
			if r := <-runs; r.idx != i || !r.at.Equal(t0) {
				t.Fatalf("call %d ran as %d at %s, want t0", i, r.idx, r.at)
			}
			continue
		}
		clk.BlockUntil(i - 4)
	}

	seen := map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true}
	for window := 1; window < 4; window++ {
		clk.Advance(time.Second)
		wantAt := t0.Add(time.Duration(window) * time.Second)
		for j := 0; j < 5; j++ {
			r := <-runs
			if r.idx/5 != window {
				t.Fatalf("call %d ran in window %d", r.idx, window)
			}
			if !r.at.Equal(wantAt) {
				t.Fatalf("call %d ran at %s, want %s", r.idx, r.at, wantAt)
			}
			seen[r.idx] = true
		}
	}
	for i := 0; i < 20; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("call error: %v", err)
		}
	}
	if len(seen) != 20 {
		t.Fatalf("ran %d distinct calls, want 20", len(seen))
	}
	if s := th.Stats(); s.Proceeded != 5 || s.Delayed != 15 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestWaitHonoursCancellationWhileSleeping(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(t0)
	th := mustNew(t, Config{Limit: 1, Interval: time.Second, Clock: clk})

	var calls atomic.Int32
	call := Wrap(th, func(context.Context) (int, error) {
		calls.Add(1)
		return 0, nil
	})
	if _, err := call(context.Background()); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := call(ctx)
		done <- err
	}()
	clk.BlockUntil(1)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("operation ran %d times, want 1", calls.Load())
	}
}

func TestIgnoreDropsOverflow(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(t0)
	th := mustNew(t, Config{Limit: 5, Interval: time.Second, Policy: Ignore, Clock: clk})

	var calls atomic.Int32
	for i := 0; i < 20; i++ {
		res, err := Call(context.Background(), th, func(context.Context) (int, error) {
			calls.Add(1)
			return i, nil
		})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		switch {
		case i < 5 && (!res.Ok() || res.Value != i):
			t.Fatalf("call %d: result = %+v, want value", i, res)
		case i >= 5 && res.Outcome != op.Suppressed:
			t.Fatalf("call %d: outcome = %s, want suppressed", i, res.Outcome)
		}
	}
	if calls.Load() != 5 {
		t.Fatalf("operation ran %d times, want 5", calls.Load())
	}

	// Dropped calls still claim future windows: 15 overflow calls at a
	// limit of 5 push the anchor three intervals out.
	th.mu.Lock()
	w := th.window
	th.mu.Unlock()
	if !w.Anchor.Equal(t0.Add(3*time.Second)) || w.Count != 5 {
		t.Fatalf("window after burst = %+v, want anchor t0+3s count 5", w)
	}

	clk.Advance(1500 * time.Millisecond)
	res, err := Call(context.Background(), th, func(context.Context) (int, error) { return 1, nil })
	if err != nil || res.Outcome != op.Suppressed {
		t.Fatalf("call inside a claimed window = %+v, %v; want suppressed", res, err)
	}

	// Once the last claimed window has lapsed, calls are admitted again.
	clk.Set(t0.Add(4*time.Second + time.Millisecond))
	res, err = Call(context.Background(), th, func(context.Context) (int, error) { return 42, nil })
	if err != nil || !res.Ok() || res.Value != 42 {
		t.Fatalf("call after claimed windows = %+v, %v", res, err)
	}
}

type replaceRun struct {
	idx int
	res op.Result[int]
	err error
}

// runReplace issues n calls in order; each one blocks until release is closed
// or its context is cancelled.
func runReplace(t *testing.T, th *Throttler, n int) []replaceRun {
	t.Helper()
	release := make(chan struct{})
	started := make(chan int)
	out := make(chan replaceRun, n)

	for i := 0; i < n; i++ {
		fn := func(ctx context.Context) (int, error) {
			started <- i
			select {
			case <-release:
				return i, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		go func() {
			res, err := Call(context.Background(), th, fn)
			out <- replaceRun{idx: i, res: res, err: err}
		}()
		if got := <-started; got != i {
			t.Fatalf("started %d, want %d", got, i)
		}
	}
	close(release)

	runs := make([]replaceRun, n)
	for i := 0; i < n; i++ {
		r := <-out
		runs[r.idx] = r
	}
	return runs
}

func TestReplaceSupersedesInFlight(t *testing.T) {
	t.Parallel()
	clk := clock.NewManual(t0)
	th := mustNew(t, Config{Limit: 5, Interval: time.Second, Policy: Replace, SuppressReplaced: true, Clock: clk})

	runs := runReplace(t, th, 20)
	for i, r := range runs {
		if r.err != nil {
			t.Fatalf("call %d: %v", i, r.err)
		}
		// 0-3 were never replaced; 4-18 were each replaced by their successor.
		wantValue := i < 4 || i == 19
		if wantValue && (!r.res.Ok() || r.res.Value != i) {
			t.Fatalf("call %d: result = %+v, want value %d", i, r.res, i)
		}
		if !wantValue && r.res.Outcome != op.Superseded {
			t.Fatalf("call %d: outcome = %s, want superseded", i, r.res.Outcome)
		}
	}
	if n := th.attr.Len(); n != 0 {
		t.Fatalf("%d attribution marks leaked", n)
	}
	if th.inFlight() != nil {
		t.Fatal("in-flight slot not cleared after all calls settled")
	}
	if s := th.Stats(); s.Preempted != 15 {
		t.Fatalf("preempted = %d, want 15", s.Preempted)
	}
}

func TestReplaceWithoutSuppressionReturnsError(t *testing.T) {
	t.Parallel()
	th := mustNew(t, Config{Limit: 2, Interval: time.Hour, Policy: Replace, Clock: clock.NewManual(t0)})

	runs := runReplace(t, th, 3)
	for _, i := range []int{0, 2} {
		if runs[i].err != nil || !runs[i].res.Ok() {
			t.Fatalf("call %d = %+v, %v; want value", i, runs[i].res, runs[i].err)
		}
	}
	err := runs[1].err
	if !errors.Is(err, ErrSuperseded) || !errors.Is(err, context.Canceled) {
		t.Fatalf("replaced call err = %v, want Canceled wrapping ErrSuperseded", err)
	}
}

func TestReplaceKeepsExternalCancellation(t *testing.T) {
	t.Parallel()
	th := mustNew(t, Config{Limit: 1, Interval: time.Hour, Policy: Replace, SuppressReplaced: true, Clock: clock.NewManual(t0)})

	gate := make(chan struct{})
	entered := make(chan struct{})
	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan error, 1)
	go func() {
		_, err := Call(ctxA, th, func(ctx context.Context) (int, error) {
			close(entered)
			<-gate
			return 0, ctx.Err()
		})
		doneA <- err
	}()
	<-entered

	// Cancelled by its caller first, then preempted: the caller's error wins.
	cancelA()
	res, err := Call(context.Background(), th, func(context.Context) (int, error) { return 7, nil })
	if err != nil || res.Value != 7 {
		t.Fatalf("preempting call = %+v, %v", res, err)
	}
	close(gate)

	err = <-doneA
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrSuperseded) {
		t.Fatalf("err = %v, want plain context.Canceled", err)
	}
	if n := th.attr.Len(); n != 0 {
		t.Fatalf("%d attribution marks leaked", n)
	}
}

func TestReplaceKeepsSuccessorCancellation(t *testing.T) {
	t.Parallel()
	th := mustNew(t, Config{Limit: 1, Interval: time.Hour, Policy: Replace, SuppressReplaced: true, Clock: clock.NewManual(t0)})

	block := func(entered chan struct{}) op.Func[int] {
		return func(ctx context.Context) (int, error) {
			close(entered)
			<-ctx.Done()
			return 0, ctx.Err()
		}
	}

	enteredA := make(chan struct{})
	doneA := make(chan replaceRun, 1)
	go func() {
		res, err := Call(context.Background(), th, block(enteredA))
		doneA <- replaceRun{res: res, err: err}
	}()
	<-enteredA

	enteredB := make(chan struct{})
	ctxB, cancelB := context.WithCancel(context.Background())
	doneB := make(chan replaceRun, 1)
	go func() {
		res, err := Call(ctxB, th, block(enteredB))
		doneB <- replaceRun{res: res, err: err}
	}()
	<-enteredB

	// The predecessor is attributed to the throttler.
	a := <-doneA
	if a.err != nil || a.res.Outcome != op.Superseded {
		t.Fatalf("predecessor = %+v, %v; want superseded", a.res, a.err)
	}

	// The successor's own caller cancels it: the error comes back unchanged.
	cancelB()
	b := <-doneB
	if !errors.Is(b.err, context.Canceled) || errors.Is(b.err, ErrSuperseded) || b.res.Outcome == op.Superseded {
		t.Fatalf("successor = %+v, %v; want plain context.Canceled", b.res, b.err)
	}
	if n := th.attr.Len(); n != 0 {
		t.Fatalf("%d attribution marks leaked", n)
	}
	if th.inFlight() != nil {
		t.Fatal("in-flight slot not cleared")
	}
}

func TestReplaceKeepsPredecessorFailure(t *testing.T) {
	t.Parallel()
	th := mustNew(t, Config{Limit: 1, Interval: time.Hour, Policy: Replace, SuppressReplaced: true, Clock: clock.NewManual(t0)})
	boom := errors.New("boom")

	gate := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan replaceRun, 1)
	go func() {
		// Ignores its context and fails on its own after being replaced.
		res, err := Call(context.Background(), th, func(context.Context) (int, error) {
			close(entered)
			<-gate
			return 0, boom
		})
		done <- replaceRun{res: res, err: err}
	}()
	<-entered

	res, err := Call(context.Background(), th, func(context.Context) (int, error) { return 7, nil })
	if err != nil || res.Value != 7 {
		t.Fatalf("preempting call = %+v, %v", res, err)
	}
	close(gate)

	r := <-done
	if !errors.Is(r.err, boom) || r.res.Outcome == op.Superseded {
		t.Fatalf("replaced call = %+v, %v; want boom", r.res, r.err)
	}
	if n := th.attr.Len(); n != 0 {
		t.Fatalf("%d attribution marks leaked", n)
	}
}

func TestOperationErrorPassesThrough(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	for _, p := range []Policy{Wait, Ignore, Replace} {
		th := mustNew(t, Config{Limit: 1, Interval: time.Second, Policy: p, Clock: clock.NewManual(t0)})
		_, err := Call(context.Background(), th, func(context.Context) (int, error) { return 0, boom })
		if !errors.Is(err, boom) {
			t.Fatalf("%s: err = %v, want boom", p, err)
		}
	}
}

func TestOnSettledOnlyClearsOwnHandle(t *testing.T) {
	t.Parallel()
	th := mustNew(t, Config{Limit: 1, Interval: time.Second, Policy: Replace})
	noop := func(error) {}
	_, a := th.begin(t0, noop)
	_, b := th.begin(t0, noop)

	th.OnSettled(a)
	if th.inFlight() != b {
		t.Fatal("settling a stale handle cleared the successor")
	}
	if !th.WasSelfCancelled(a) {
		t.Fatal("predecessor should be attributed to the throttler")
	}
	if th.WasSelfCancelled(a) {
		t.Fatal("attribution must be one-shot")
	}
	th.OnSettled(b)
	if th.inFlight() != nil {
		t.Fatal("in-flight slot not cleared")
	}
}
