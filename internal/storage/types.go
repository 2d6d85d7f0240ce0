package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// DefaultRetain is the record cap used when Config.Retain is zero.
const DefaultRetain = 10000

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int           // max records kept; 0 means DefaultRetain
}

// RunRecord is one finished run of a job.
type RunRecord struct {
	Job      string        `json:"job"`
	Seq      uint64        `json:"seq"`
	Outcome  string        `json:"outcome"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"err,omitempty"`
}

// Store persists run records.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first. An empty job
	// matches every job.
	RecentRuns(ctx context.Context, job string, limit int) ([]RunRecord, error)
	Close() error
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return DefaultRetain
	}
	return c.Retain
}
