package natural

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pacer/pkg/clock"
	"pacer/pkg/op"
)

// ErrInvalidSpec is wrapped by every schedule configuration error.
var ErrInvalidSpec = errors.New("natural: invalid schedule")

// Spec describes a schedule: fire at every Unit boundary, shifted by Delay.
// Weekday picks the boundary day for Week and is ignored otherwise.
type Spec struct {
	Unit    Unit
	Delay   time.Duration
	Weekday time.Weekday
}

func (s Spec) Validate() error {
	if !s.Unit.valid() {
		return fmt.Errorf("%w: unknown unit %s", ErrInvalidSpec, s.Unit)
	}
	if s.Delay < 0 {
		return fmt.Errorf("%w: delay must be >= 0 (got %s)", ErrInvalidSpec, s.Delay)
	}
	if s.Weekday < time.Sunday || s.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday out of range (got %d)", ErrInvalidSpec, int(s.Weekday))
	}
	return nil
}

func (s Spec) String() string {
	var b strings.Builder
	b.WriteString(s.Unit.String())
	if s.Unit == Week {
		b.WriteString(" on ")
		b.WriteString(strings.ToLower(s.Weekday.String()))
	}
	if s.Delay > 0 {
		b.WriteString(" +")
		b.WriteString(s.Delay.String())
	}
	return b.String()
}

// ParseSpec builds a Spec from its textual parts. delay is a Go duration
// ("90s", "1h30m") or a plain number of seconds; empty means zero. weekday
// defaults to DefaultWeekday.
func ParseSpec(unit, delay, weekday string) (Spec, error) {
	u, err := ParseUnit(unit)
	if err != nil {
		return Spec{}, err
	}
	d, err := parseDelay(delay)
	if err != nil {
		return Spec{}, err
	}
	wd, err := ParseWeekday(weekday)
	if err != nil {
		return Spec{}, err
	}
	s := Spec{Unit: u, Delay: d, Weekday: wd}
	return s, s.Validate()
}

func parseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad delay %q", ErrInvalidSpec, s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Schedule computes the next natural boundary of a Spec.
// It is immutable and safe for concurrent use.
type Schedule struct {
	spec Spec
	step StepFunc
}

var _ cron.Schedule = (*Schedule)(nil)

func New(spec Spec) (*Schedule, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Schedule{spec: spec, step: spec.Unit.Step()}, nil
}

func (s *Schedule) Spec() Spec { return s.spec }

// Until returns how long after now the schedule next fires.
//
// The next boundary plus Delay is the first candidate. Because Delay may span
// several units, earlier boundaries (plus Delay) can still lie in the future;
// the earliest of those that is strictly after now wins.
func (s *Schedule) Until(now time.Time) time.Duration {
	wd := s.spec.Weekday
	candidate := s.step(now, wd, 0).Add(s.spec.Delay)
	for n := 1; ; n++ {
		prior := s.step(now, wd, n).Add(s.spec.Delay)
		if !prior.After(now) {
			break
		}
		candidate = prior
	}
	return candidate.Sub(now)
}

// Next returns the next firing time strictly after now.
func (s *Schedule) Next(now time.Time) time.Time {
	return now.Add(s.Until(now))
}

// Wrap delays every call of fn until the schedule's next firing time.
func Wrap[T any](s *Schedule, clk clock.Clock, fn op.Func[T]) op.Func[T] {
	clk = clock.OrSystem(clk)
	return func(ctx context.Context) (T, error) {
		if err := clk.Sleep(ctx, s.Until(clk.Now())); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx)
	}
}
