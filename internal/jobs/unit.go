package jobs

import (
	"context"
	"errors"
	"fmt"

	"pacer/pkg/unitctl"
)

// UnitRunner queues systemd unit operations. *unitctl.Manager implements it.
type UnitRunner interface {
	Run(ctx context.Context, unit string, verb unitctl.Verb) (string, error)
}

var ErrNoUnitRunner = errors.New("jobs: unit jobs need a systemd connection")

// UnitAction applies verb to unit on every run and waits for systemd's job
// result.
func UnitAction(u UnitRunner, unit string, verb unitctl.Verb) Action {
	name := unitctl.UnitName(unit)
	return func(ctx context.Context) (string, error) {
		if u == nil {
			return "", ErrNoUnitRunner
		}
		res, err := u.Run(ctx, unit, verb)
		if err != nil {
			return res, err
		}
		return fmt.Sprintf("%s %s: %s", verb, name, res), nil
	}
}
