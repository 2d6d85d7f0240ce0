package jobs

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pacer/internal/config"
	"pacer/pkg/natural"
	"pacer/pkg/op"
	"pacer/pkg/throttle"
	"pacer/pkg/unitctl"
)

// Defaults for the optional throttle block.
const (
	DefaultThrottleLimit    = 1
	DefaultThrottleInterval = time.Minute
)

// Action is what a job runs on every trigger. The string is the
// operation's output, kept for logs.
type Action = op.Func[string]

// Definition is a validated, runnable job.
type Definition struct {
	Name string

	// Schedule is either a *natural.Schedule or a parsed cron expression.
	Schedule cron.Schedule
	// Trigger is the human-readable schedule, for status output.
	Trigger string

	Runs    int // op.Infinite for forever
	Pause   time.Duration
	Timeout time.Duration

	// Throttle is nil when runs are not rate limited.
	Throttle *throttle.Config

	Action Action

	// Fingerprint changes whenever the job's configuration does.
	Fingerprint uint64
}

// cronParser accepts 5-field and 6-field (leading seconds) specs plus
// descriptors such as @daily and @every 5m.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule resolves the trigger of jc.
func ParseSchedule(jc config.JobConfig) (cron.Schedule, string, error) {
	if expr := strings.TrimSpace(jc.Cron); expr != "" {
		s, err := cronParser.Parse(expr)
		if err != nil {
			return nil, "", fmt.Errorf("cron %q: %w", expr, err)
		}
		return s, "cron " + expr, nil
	}
	spec, err := natural.ParseSpec(jc.Every, jc.Delay, jc.Weekday)
	if err != nil {
		return nil, "", err
	}
	s, err := natural.New(spec)
	if err != nil {
		return nil, "", err
	}
	return s, "every " + spec.String(), nil
}

// Build turns jc into a Definition. Command jobs run with ExecAction, unit
// jobs with UnitAction on units.
func Build(jc config.JobConfig, units UnitRunner) (Definition, error) {
	action := ExecAction(jc.Command)
	if jc.Unit != nil {
		verb, err := unitctl.ParseVerb(jc.Unit.Action)
		if err != nil {
			return Definition{}, fmt.Errorf("jobs.%s.unit.action: %w", strings.TrimSpace(jc.Name), err)
		}
		action = UnitAction(units, jc.Unit.Name, verb)
	}
	return BuildWith(jc, action)
}

// BuildWith is Build with a caller supplied action.
func BuildWith(jc config.JobConfig, action Action) (Definition, error) {
	name := strings.TrimSpace(jc.Name)
	path := "jobs." + name

	sched, trigger, err := ParseSchedule(jc)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	if strings.TrimSpace(jc.Cron) != "" && (strings.TrimSpace(jc.Delay) != "" || strings.TrimSpace(jc.Weekday) != "") {
		return Definition{}, fmt.Errorf("%s: delay and weekday only apply to natural schedules", path)
	}

	d := Definition{
		Name:     name,
		Schedule: sched,
		Trigger:  trigger,
		Runs:     op.Infinite,
		Action:   action,
	}
	if jc.Runs != nil {
		d.Runs = *jc.Runs
	}
	if d.Pause, err = config.ParseDurationField(path+".pause", jc.Pause); err != nil {
		return Definition{}, err
	}
	if d.Timeout, err = config.ParseDurationField(path+".timeout", jc.Timeout); err != nil {
		return Definition{}, err
	}
	if jc.Throttle != nil {
		tc, err := throttleConfig(path+".throttle", *jc.Throttle)
		if err != nil {
			return Definition{}, err
		}
		d.Throttle = &tc
	}

	b, err := json.Marshal(jc)
	if err != nil {
		return Definition{}, err
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	d.Fingerprint = h.Sum64()
	return d, nil
}

func throttleConfig(path string, tc config.ThrottleConfig) (throttle.Config, error) {
	policy, err := throttle.ParsePolicy(tc.Policy)
	if err != nil {
		return throttle.Config{}, fmt.Errorf("%s.policy: %w", path, err)
	}
	interval, err := config.ParseDurationOrDefault(path+".interval", tc.Interval, DefaultThrottleInterval)
	if err != nil {
		return throttle.Config{}, err
	}
	out := throttle.Config{
		Limit:            tc.Limit,
		Interval:         interval,
		Policy:           policy,
		SuppressReplaced: tc.SuppressReplaced,
	}
	if out.Limit == 0 {
		out.Limit = DefaultThrottleLimit
	}
	if err := out.Validate(); err != nil {
		return throttle.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// BuildAll builds every enabled job in cfg.
func BuildAll(cfg *config.Config, units UnitRunner) ([]Definition, error) {
	defs := make([]Definition, 0, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		if jc.Disabled {
			continue
		}
		d, err := Build(jc, units)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// NextN returns the next n firing times of s after now.
func NextN(s cron.Schedule, now time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		now = s.Next(now)
		if now.IsZero() {
			break
		}
		out = append(out, now)
	}
	return out
}
