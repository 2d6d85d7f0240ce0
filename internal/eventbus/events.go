package eventbus

import "time"

// Job lifecycle event types. Data is always a Run.
const (
	JobStarted    = "job.started"
	JobFinished   = "job.finished"
	JobFailed     = "job.failed"
	JobSuppressed = "job.suppressed"
	JobSuperseded = "job.superseded"
)

// Run describes one triggered run of a job.
type Run struct {
	Job      string        `json:"job"`
	Seq      uint64        `json:"seq"`
	Outcome  string        `json:"outcome"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"err,omitempty"`
}

// Terminal reports whether t closes a run (everything but JobStarted).
func Terminal(t string) bool {
	switch t {
	case JobFinished, JobFailed, JobSuppressed, JobSuperseded:
		return true
	}
	return false
}
