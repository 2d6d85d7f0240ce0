package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pacer/internal/eventbus"
	"pacer/internal/runtime/supervisor"
	"pacer/pkg/clock"
	logx "pacer/pkg/logx"
	"pacer/pkg/natural"
	"pacer/pkg/op"
	"pacer/pkg/throttle"
)

// ErrNoNextRun is returned by a job loop whose schedule never fires again.
var ErrNoNextRun = errors.New("jobs: schedule has no next run")

const (
	// Failure warnings per job: a burst of 3, then one a minute.
	warnBurst = 3
	warnEvery = time.Minute
)

type Options struct {
	Log      logx.Logger
	Bus      eventbus.Bus // optional
	Clock    clock.Clock
	Location *time.Location
}

// Runner drives one loop per job definition.
//
// Every loop waits for its schedule, then dispatches the run on its own
// goroutine through the job's throttle, so overlapping runs are subject to
// the job's policy.
type Runner struct {
	log  logx.Logger
	bus  eventbus.Bus
	base clock.Clock

	mu   sync.Mutex
	loc  *time.Location
	defs []Definition
	jobs map[string]*job
	sup  *supervisor.Supervisor
}

type job struct {
	def    Definition
	clk    clock.Clock
	th     *throttle.Throttler // nil when unthrottled
	call   op.Func[op.Result[string]]
	cancel context.CancelFunc
	warn   *rate.Limiter

	seq      atomic.Uint64
	inFlight atomic.Int64

	mu   sync.Mutex
	last *eventbus.Run
	done bool
}

// Status is a point-in-time view of one job.
type Status struct {
	Name     string          `json:"name"`
	Trigger  string          `json:"trigger"`
	Next     time.Time       `json:"next"`
	Running  bool            `json:"running"`
	Done     bool            `json:"done"`
	Triggers uint64          `json:"triggers"`
	InFlight int64           `json:"in_flight"`
	Unit     string          `json:"unit,omitempty"` // natural schedules only
	Policy   string          `json:"policy,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Interval time.Duration   `json:"interval,omitempty"`
	Throttle *throttle.Stats `json:"throttle,omitempty"`
	Last     *eventbus.Run   `json:"last,omitempty"`
}

type seqKey struct{}

func NewRunner(opts Options) *Runner {
	return &Runner{
		log:  opts.Log.OrNop().With(logx.String("comp", "jobs")),
		bus:  opts.Bus,
		base: clock.OrSystem(opts.Clock),
		loc:  opts.Location,
		jobs: map[string]*job{},
	}
}

// Apply replaces the job set. Jobs whose definition changed are restarted;
// unchanged jobs keep running undisturbed.
func (r *Runner) Apply(defs []Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]Definition, len(defs))
	for _, d := range defs {
		next[d.Name] = d
	}
	for name, j := range r.jobs {
		if d, ok := next[name]; ok && d.Fingerprint == j.def.Fingerprint {
			continue
		}
		j.cancel()
		delete(r.jobs, name)
		r.log.Info("job stopped", logx.String("job", name))
	}
	r.defs = append([]Definition(nil), defs...)
	if r.sup == nil {
		return
	}
	for _, d := range r.defs {
		if _, ok := r.jobs[d.Name]; !ok {
			r.startLocked(d)
		}
	}
}

// SetLocation changes the time zone schedules are evaluated in. Running jobs
// are restarted when it changes.
func (r *Runner) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// LoadLocation hands out a fresh *Location per call; compare by name.
	if loc.String() == r.location().String() {
		return
	}
	r.loc = loc
	if r.sup == nil {
		return
	}
	for name, j := range r.jobs {
		j.cancel()
		delete(r.jobs, name)
	}
	for _, d := range r.defs {
		r.startLocked(d)
	}
	r.log.Info("jobs restarted for new timezone", logx.String("tz", r.location().String()))
}

func (r *Runner) location() *time.Location {
	if r.loc == nil {
		return time.Local
	}
	return r.loc
}

func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sup != nil {
		return
	}
	r.sup = supervisor.New(ctx, supervisor.WithLogger(r.log), supervisor.WithClock(r.base))
	for _, d := range r.defs {
		r.startLocked(d)
	}
	r.log.Info("runner started", logx.Int("jobs", len(r.defs)), logx.String("tz", r.location().String()))
}

// Stop cancels every job loop and in-flight run and waits for them.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	sup := r.sup
	r.sup = nil
	r.jobs = map[string]*job{}
	r.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	r.log.Info("runner stopped")
	return err
}

func (r *Runner) startLocked(d Definition) {
	j := &job{
		def:  d,
		clk:  clock.InLocation(r.base, r.location()),
		warn: rate.NewLimiter(rate.Every(warnEvery), warnBurst),
	}

	timed := op.Timeout(d.Timeout, r.announce(d, j.clk))
	if d.Throttle != nil {
		tc := *d.Throttle
		tc.Clock = r.base
		tc.Log = r.log.With(logx.String("job", d.Name))
		th, err := throttle.New(tc)
		if err != nil {
			r.log.Error("job not started", logx.String("job", d.Name), logx.Err(err))
			return
		}
		j.th = th
		j.call = throttle.Wrap(th, timed)
	} else {
		j.call = func(ctx context.Context) (op.Result[string], error) {
			v, err := timed(ctx)
			if err != nil {
				return op.Result[string]{}, err
			}
			return op.Done(v), nil
		}
	}

	jctx, cancel := context.WithCancel(r.sup.Context())
	j.cancel = cancel
	r.jobs[d.Name] = j
	r.sup.Go("job."+d.Name, func(context.Context) error { return r.loop(jctx, j) })
	r.log.Debug("job started", logx.String("job", d.Name), logx.String("trigger", d.Trigger))
}

// announce publishes JobStarted right before the action runs, i.e. only for
// runs the throttle admitted.
func (r *Runner) announce(d Definition, clk clock.Clock) Action {
	return func(ctx context.Context) (string, error) {
		seq, _ := ctx.Value(seqKey{}).(uint64)
		r.publish(eventbus.JobStarted, eventbus.Run{Job: d.Name, Seq: seq, Started: clk.Now()})
		return d.Action(ctx)
	}
}

func (r *Runner) loop(ctx context.Context, j *job) error {
	_, err := op.Repeat(j.def.Runs, j.def.Pause, j.clk, r.trigger(j))(ctx)

	j.mu.Lock()
	j.done = true
	j.mu.Unlock()

	if err != nil && ctx.Err() != nil {
		return nil
	}
	if err == nil {
		r.log.Info("job finished all runs", logx.String("job", j.def.Name), logx.Int("runs", j.def.Runs))
	}
	return err
}

// trigger waits for the next firing time and dispatches one run.
func (r *Runner) trigger(j *job) op.Func[struct{}] {
	dispatch := func(ctx context.Context) (struct{}, error) {
		seq := j.seq.Add(1)
		r.mu.Lock()
		sup := r.sup
		r.mu.Unlock()
		if sup == nil {
			return struct{}{}, context.Canceled
		}
		sup.Go0("run."+j.def.Name, func(context.Context) { r.run(ctx, j, seq) })
		return struct{}{}, nil
	}

	if ns, ok := j.def.Schedule.(*natural.Schedule); ok {
		return natural.Wrap(ns, j.clk, dispatch)
	}
	return func(ctx context.Context) (struct{}, error) {
		now := j.clk.Now()
		next := j.def.Schedule.Next(now)
		if next.IsZero() {
			return struct{}{}, ErrNoNextRun
		}
		if err := j.clk.Sleep(ctx, next.Sub(now)); err != nil {
			return struct{}{}, err
		}
		return dispatch(ctx)
	}
}

func (r *Runner) run(ctx context.Context, j *job, seq uint64) {
	j.inFlight.Add(1)
	defer j.inFlight.Add(-1)

	start := j.clk.Now()
	res, err := j.call(context.WithValue(ctx, seqKey{}, seq))
	rec := eventbus.Run{
		Job:      j.def.Name,
		Seq:      seq,
		Started:  start,
		Duration: j.clk.Now().Sub(start),
	}

	var typ string
	switch {
	case errors.Is(err, throttle.ErrSuperseded):
		typ, rec.Outcome, rec.Err = eventbus.JobSuperseded, op.Superseded.String(), err.Error()
	case err != nil:
		typ, rec.Outcome, rec.Err = eventbus.JobFailed, "failed", err.Error()
		if ctx.Err() != nil {
			rec.Outcome = "cancelled"
		}
	case res.Outcome == op.Suppressed:
		typ, rec.Outcome = eventbus.JobSuppressed, res.Outcome.String()
	case res.Outcome == op.Superseded:
		typ, rec.Outcome = eventbus.JobSuperseded, res.Outcome.String()
	default:
		typ, rec.Outcome = eventbus.JobFinished, res.Outcome.String()
	}

	j.mu.Lock()
	j.last = &rec
	j.mu.Unlock()
	r.publish(typ, rec)

	log := r.log.With(logx.String("job", rec.Job), logx.Uint64("seq", seq))
	switch typ {
	case eventbus.JobFinished:
		log.Info("job run finished", logx.Duration("took", rec.Duration), logx.String("output", res.Value))
	case eventbus.JobFailed:
		if rec.Outcome != "cancelled" && j.warn.Allow() {
			log.Warn("job run failed", logx.Duration("took", rec.Duration), logx.Err(err))
		} else {
			log.Debug("job run failed", logx.String("outcome", rec.Outcome), logx.Err(err))
		}
	default:
		log.Debug("job run not executed", logx.String("outcome", rec.Outcome))
	}
}

func (r *Runner) publish(typ string, rec eventbus.Run) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: rec})
}

// Snapshot returns the status of every configured job, sorted by name.
func (r *Runner) Snapshot() []Status {
	r.mu.Lock()
	defs := append([]Definition(nil), r.defs...)
	jobs := make(map[string]*job, len(r.jobs))
	for k, v := range r.jobs {
		jobs[k] = v
	}
	loc := r.location()
	r.mu.Unlock()

	now := r.base.Now().In(loc)
	out := make([]Status, 0, len(defs))
	for _, d := range defs {
		st := Status{Name: d.Name, Trigger: d.Trigger, Next: d.Schedule.Next(now)}
		if ns, ok := d.Schedule.(*natural.Schedule); ok {
			st.Unit = ns.Spec().Unit.String()
		}
		if d.Throttle != nil {
			st.Policy = d.Throttle.Policy.String()
			st.Limit, st.Interval = d.Throttle.Limit, d.Throttle.Interval
		}
		if j := jobs[d.Name]; j != nil {
			j.mu.Lock()
			st.Done = j.done
			st.Last = j.last
			j.mu.Unlock()
			st.Running = !st.Done
			st.Triggers = j.seq.Load()
			st.InFlight = j.inFlight.Load()
			if j.th != nil {
				tc := j.th.Config()
				st.Policy, st.Limit, st.Interval = tc.Policy.String(), tc.Limit, tc.Interval
				s := j.th.Stats()
				st.Throttle = &s
			}
		}
		if st.Done {
			st.Next = time.Time{}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}
