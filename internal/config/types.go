package config

import (
	"fmt"
	"strings"
	"time"

	logx "pacer/pkg/logx"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is optional; nil (or driver "none") disables run history.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Timezone is the IANA location schedules are evaluated in.
	// Empty means the process local time.
	Timezone string `json:"timezone,omitempty"`

	// Admin is the optional loopback HTTP endpoint (status, health, pprof).
	Admin *AdminConfig `json:"admin,omitempty"`

	Jobs []JobConfig `json:"jobs"`
}

// AdminConfig controls the admin HTTP server.
//
// Binding to a non-loopback address requires Token or AllowInsecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert mirrors error lines to stderr with a rate cap.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional run history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pacerd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Retain      int    `json:"retain,omitempty"`       // max run records kept
}

// JobConfig describes one scheduled command.
//
// Exactly one of Every (a natural unit such as "daily") or Cron must be set.
// All durations are Go duration strings.
type JobConfig struct {
	Name     string `json:"name"`
	Disabled bool   `json:"disabled,omitempty"`

	Every   string `json:"every,omitempty"`
	Delay   string `json:"delay,omitempty"`
	Weekday string `json:"weekday,omitempty"`
	Cron    string `json:"cron,omitempty"`

	// Runs bounds how many triggers the job loop handles; omitted or -1 means
	// forever.
	Runs  *int   `json:"runs,omitempty"`
	Pause string `json:"pause,omitempty"`

	Timeout  string          `json:"timeout,omitempty"`
	Throttle *ThrottleConfig `json:"throttle,omitempty"`

	// Exactly one of Command and Unit is the job's action.
	Command []string    `json:"command,omitempty"`
	Unit    *UnitConfig `json:"unit,omitempty"`
}

// UnitConfig runs a systemd unit operation instead of a command.
type UnitConfig struct {
	Name   string `json:"name"`
	Action string `json:"action,omitempty"` // start, stop, restart (default), try-restart, reload
}

// ThrottleConfig bounds how many runs of a job may start per interval.
// Defaults: limit 1, interval 1m, policy wait.
type ThrottleConfig struct {
	Limit            int    `json:"limit,omitempty"`
	Interval         string `json:"interval,omitempty"`
	Policy           string `json:"policy,omitempty"`
	SuppressReplaced bool   `json:"suppress_replaced,omitempty"`
}

// Log converts the logging section into the logx service config.
func (c LoggingConfig) Log() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    c.Alert.Enabled,
			MinLevel:   c.Alert.MinLevel,
			RatePerSec: c.Alert.RatePerSec,
		},
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// Job returns the job named name, if configured.
func (c *Config) Job(name string) (JobConfig, bool) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobConfig{}, false
}

// Check performs the structural checks that do not need the job machinery:
// unique non-empty names, trigger exclusivity and one action per job.
func (c *Config) Check() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
		if c.Storage.Retain < 0 {
			return fmt.Errorf("storage.retain: must be >= 0")
		}
	}
	if c.Admin != nil {
		if _, err := ParseDurationField("admin.read_timeout", c.Admin.ReadTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("admin.write_timeout", c.Admin.WriteTimeout); err != nil {
			return err
		}
	}
	seen := make(map[string]struct{}, len(c.Jobs))
	for i, j := range c.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			return fmt.Errorf("%s.name: required", path)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%s.name: duplicate job %q", path, name)
		}
		seen[name] = struct{}{}

		every, cron := strings.TrimSpace(j.Every) != "", strings.TrimSpace(j.Cron) != ""
		switch {
		case every && cron:
			return fmt.Errorf("%s: every and cron are mutually exclusive", path)
		case !every && !cron:
			return fmt.Errorf("%s: one of every or cron is required", path)
		}
		switch {
		case len(j.Command) > 0 && j.Unit != nil:
			return fmt.Errorf("%s: command and unit are mutually exclusive", path)
		case j.Unit != nil:
			if strings.TrimSpace(j.Unit.Name) == "" {
				return fmt.Errorf("%s.unit.name: required", path)
			}
		case len(j.Command) == 0 || strings.TrimSpace(j.Command[0]) == "":
			return fmt.Errorf("%s.command: required", path)
		}
		if j.Runs != nil && *j.Runs < -1 {
			return fmt.Errorf("%s.runs: must be >= -1", path)
		}
	}
	return nil
}
