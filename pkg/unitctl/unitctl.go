// Package unitctl drives systemd units (start, stop, restart, ...) over the
// system D-Bus and waits for the queued job to settle.
package unitctl

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupported = errors.New("unitctl: unsupported OS (linux only)")
	ErrClosed      = errors.New("unitctl: systemd connection is closed")
	// ErrJobFailed is returned when systemd finished the job with a result
	// other than "done" (failed, timeout, dependency, ...).
	ErrJobFailed = errors.New("unitctl: unit job did not complete")
)

// Verb is the unit operation to queue.
type Verb string

const (
	Start      Verb = "start"
	Stop       Verb = "stop"
	Restart    Verb = "restart"
	TryRestart Verb = "try-restart"
	Reload     Verb = "reload"
)

// ParseVerb accepts the systemctl spelling of a verb. Empty means restart.
func ParseVerb(s string) (Verb, error) {
	switch v := Verb(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return Restart, nil
	case Start, Stop, Restart, TryRestart, Reload:
		return v, nil
	default:
		return "", fmt.Errorf("unitctl: unknown verb %q", s)
	}
}

var unitSuffixes = []string{".service", ".timer", ".socket", ".target", ".mount", ".path", ".slice"}

// UnitName appends ".service" unless name already carries a unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	for _, sfx := range unitSuffixes {
		if strings.HasSuffix(name, sfx) {
			return name
		}
	}
	return name + ".service"
}
