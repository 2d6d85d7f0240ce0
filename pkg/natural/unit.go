package natural

import (
	"fmt"
	"strings"
	"time"
)

// Unit is the calendar unit a Schedule fires on.
type Unit uint8

const (
	Second Unit = iota
	Minute
	Hour
	Day
	Week
	Month
	Year
)

// DefaultWeekday is used by weekly schedules that do not name a day.
const DefaultWeekday = time.Monday

var unitNames = [...]string{
	Second: "second",
	Minute: "minute",
	Hour:   "hour",
	Day:    "day",
	Week:   "week",
	Month:  "month",
	Year:   "year",
}

func (u Unit) String() string {
	if int(u) < len(unitNames) {
		return unitNames[u]
	}
	return fmt.Sprintf("unit(%d)", uint8(u))
}

func (u Unit) valid() bool { return u <= Year }

// ParseUnit accepts a unit name or its adverb ("day" or "daily", "hour" or
// "hourly", ...), case-insensitive.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "second", "secondly":
		return Second, nil
	case "minute", "minutely":
		return Minute, nil
	case "hour", "hourly":
		return Hour, nil
	case "day", "daily":
		return Day, nil
	case "week", "weekly":
		return Week, nil
	case "month", "monthly":
		return Month, nil
	case "year", "yearly":
		return Year, nil
	default:
		return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidSpec, s)
	}
}

// ParseWeekday accepts full English day names and three-letter
// abbreviations, case-insensitive. An empty string yields DefaultWeekday.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultWeekday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidSpec, s)
}

// StepFunc returns the start of the unit period that is 1-step periods after
// the one containing now: step 0 is the next boundary, step 1 the current
// period's start, step 2 the previous one and so on. wd only matters for
// weekly schedules.
type StepFunc func(now time.Time, wd time.Weekday, step int) time.Time

var steps = [...]StepFunc{
	Second: func(t time.Time, _ time.Weekday, n int) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second()+1-n, 0, t.Location())
	},
	Minute: func(t time.Time, _ time.Weekday, n int) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()+1-n, 0, 0, t.Location())
	},
	Hour: func(t time.Time, _ time.Weekday, n int) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1-n, 0, 0, 0, t.Location())
	},
	Day: func(t time.Time, _ time.Weekday, n int) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day()+1-n, 0, 0, 0, 0, t.Location())
	},
	Week: func(t time.Time, wd time.Weekday, n int) time.Time {
		offset := (7 - int(t.Weekday()) + int(wd)) % 7
		if offset == 0 {
			offset = 7
		}
		return time.Date(t.Year(), t.Month(), t.Day()+offset-7*n, 0, 0, 0, 0, t.Location())
	},
	Month: func(t time.Time, _ time.Weekday, n int) time.Time {
		return time.Date(t.Year(), t.Month()+1-time.Month(n), 1, 0, 0, 0, 0, t.Location())
	},
	Year: func(t time.Time, _ time.Weekday, n int) time.Time {
		return time.Date(t.Year()+1-n, time.January, 1, 0, 0, 0, 0, t.Location())
	},
}

// Step returns the step function for u.
func (u Unit) Step() StepFunc {
	if !u.valid() {
		return nil
	}
	return steps[u]
}
