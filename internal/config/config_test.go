package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./pacerd.db
timezone: UTC
jobs:
  - name: report
    every: daily
    delay: 30m
    timeout: 5m
    throttle: {limit: 1, interval: 1h, policy: replace, suppress_replaced: true}
    command: ["sh", "-c", "echo hi"]
  - name: sync
    cron: "*/5 * * * *"
    runs: 3
    unit: {name: sync-worker, action: restart}
admin:
  enabled: true
  pprof: true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "pacerd.yaml", sampleYAML)
	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
	if len(cfg.Jobs) != 2 || cfg.Jobs[0].Throttle == nil || cfg.Jobs[0].Throttle.Policy != "replace" {
		t.Fatalf("unexpected jobs: %+v", cfg.Jobs)
	}
	if cfg.Jobs[1].Runs == nil || *cfg.Jobs[1].Runs != 3 || cfg.Jobs[1].Unit == nil || cfg.Jobs[1].Unit.Name != "sync-worker" {
		t.Fatalf("runs not decoded: %+v", cfg.Jobs[1])
	}
	if cfg.Admin == nil || !cfg.Admin.Enabled || !cfg.Admin.Pprof {
		t.Fatalf("admin = %+v", cfg.Admin)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if got := cfg.Logging.Log(); got.Level != "debug" || !got.Console {
		t.Fatalf("logx config = %+v", got)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	body := `{"logging":{"level":"info"},"jobs":[{"name":"a","every":"hourly","command":["true"]}]}`
	p := writeFile(t, t.TempDir(), "pacerd.json", body)
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if j, ok := cfg.Job("a"); !ok || j.Every != "hourly" {
		t.Fatalf("job a = %+v, %v", j, ok)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body, want string
	}{
		{"unknown field", "c.json", `{"jobs":[],"bogus":1}`, "unknown field"},
		{"trailing data", "c.json", `{"jobs":[]} {}`, "trailing data"},
		{"bad yaml", "c.yaml", "jobs: [", "yaml"},
		{"missing name", "c.json", `{"jobs":[{"every":"daily","command":["x"]}]}`, "name: required"},
		{"duplicate", "c.json", `{"jobs":[{"name":"a","every":"daily","command":["x"]},{"name":"a","every":"daily","command":["x"]}]}`, "duplicate"},
		{"both triggers", "c.json", `{"jobs":[{"name":"a","every":"daily","cron":"@daily","command":["x"]}]}`, "mutually exclusive"},
		{"no trigger", "c.json", `{"jobs":[{"name":"a","command":["x"]}]}`, "one of every or cron"},
		{"no command", "c.json", `{"jobs":[{"name":"a","every":"daily"}]}`, "command: required"},
		{"command and unit", "c.json", `{"jobs":[{"name":"a","every":"daily","command":["x"],"unit":{"name":"nginx"}}]}`, "command and unit"},
		{"unit without name", "c.json", `{"jobs":[{"name":"a","every":"daily","unit":{"action":"start"}}]}`, "unit.name"},
		{"bad retain", "c.json", `{"storage":{"driver":"file","path":"h","retain":-1},"jobs":[]}`, "storage.retain"},
		{"bad admin timeout", "c.json", `{"admin":{"enabled":true,"read_timeout":"fast"},"jobs":[]}`, "admin.read_timeout"},
		{"bad runs", "c.json", `{"jobs":[{"name":"a","every":"daily","runs":-2,"command":["x"]}]}`, "runs"},
		{"bad driver", "c.json", `{"storage":{"driver":"mysql"},"jobs":[]}`, "storage.driver"},
		{"bad timezone", "c.json", `{"timezone":"Mars/Olympus","jobs":[]}`, "timezone"},
	}
	dir := t.TempDir()
	for _, tt := range tests {
		p := writeFile(t, dir, tt.name+"-"+tt.file, tt.body)
		_, err := NewManager(p).Parse()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("%s: err = %v, want mention of %q", tt.name, err, tt.want)
		}
	}
}

func TestEmptyYAMLIsEmptyConfig(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "empty.yml", "")
	cfg, err := NewManager(p).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Jobs) != 0 {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 90s "); err != nil || d != 90*time.Second {
		t.Fatalf("ParseDurationField = %s, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %s, %v", d, err)
	}
	if _, err := ParseDurationField("jobs[0].timeout", "-1s"); err == nil || !strings.Contains(err.Error(), "jobs[0].timeout") {
		t.Fatalf("negative err = %v", err)
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = %s, %v", d, err)
	}
}

func TestSubscribeKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{Timezone: "a"}, &Config{Timezone: "b"}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("got %+v, want newest config", got)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	m.publish(a) // must not panic
}

func TestReloadValidatesAndDedupes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "pacerd.yaml", sampleYAML)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(4)
	ctx := context.Background()

	if m.reload(ctx) {
		t.Fatal("unchanged content must not be published")
	}

	reject := errors.New("nope")
	m.SetValidator(func(context.Context, *Config) error { return reject })
	writeFile(t, dir, "pacerd.yaml", strings.Replace(sampleYAML, "level: debug", "level: warn", 1))
	if m.reload(ctx) {
		t.Fatal("rejected config must not be published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("rejected config must not be committed")
	}

	m.SetValidator(nil)
	if !m.reload(ctx) {
		t.Fatal("valid change should be published")
	}
	if got := <-ch; got.Logging.Level != "warn" {
		t.Fatalf("published level = %q", got.Logging.Level)
	}
}

func TestWatchPublishesOnWrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "pacerd.yaml", sampleYAML)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	changed := strings.Replace(sampleYAML, "level: debug", "level: error", 1)
	deadline := time.After(10 * time.Second)
	// Rewrites must be spaced wider than the debounce or each one resets it.
	tick := time.NewTicker(4 * reloadDebounce)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "error" {
				t.Fatalf("published level = %q", cfg.Logging.Level)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch: %v", err)
			}
			return
		case <-tick.C:
			// The watcher may not be registered yet; keep touching the file.
			writeFile(t, dir, "pacerd.yaml", changed)
		case <-deadline:
			t.Fatal("no config published after write")
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{
		Logging: LoggingConfig{Level: "info"},
		Jobs: []JobConfig{
			{Name: "a", Every: "daily", Command: []string{"x"}},
			{Name: "b", Every: "hourly", Command: []string{"x"}},
		},
	}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Storage: &StorageConfig{Driver: "file"},
		Admin:   &AdminConfig{Enabled: true},
		Jobs: []JobConfig{
			{Name: "a", Every: "daily", Command: []string{"x"}},
			{Name: "b", Every: "hourly", Delay: "5m", Command: []string{"x"}},
			{Name: "c", Cron: "@daily", Command: []string{"x"}},
		},
	}
	sections, attrs, jobs := SummarizeChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "admin,jobs,logging,storage" {
		t.Fatalf("sections = %v", sections)
	}
	if strings.Join(jobs, ",") != "b,c" {
		t.Fatalf("jobs = %v", jobs)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}

	sections, _, jobs = SummarizeChange(newCfg, &Config{Logging: newCfg.Logging, Storage: newCfg.Storage, Admin: newCfg.Admin})
	if strings.Join(sections, ",") != "jobs" || strings.Join(jobs, ",") != "a,b,c" {
		t.Fatalf("removal: sections = %v, jobs = %v", sections, jobs)
	}
}
