package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pacer/internal/config"
	"pacer/internal/eventbus"
	"pacer/internal/jobs"
	"pacer/internal/observability/admin"
	"pacer/internal/runtime/supervisor"
	"pacer/internal/storage"
	"pacer/pkg/clock"
	logx "pacer/pkg/logx"
	"pacer/pkg/unitctl"
)

const (
	recordTimeout = 5 * time.Second
	historyBuffer = 256
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	clk  clock.Clock

	bus    *eventbus.Memory
	store  storage.Store
	units  *unitctl.Manager
	runner *jobs.Runner
	admin  *admin.Service
	notify Notifier

	started      time.Time
	stopRecorder func()
}

type Option func(*App)

// WithClock drives job schedules from c instead of the wall clock.
func WithClock(c clock.Clock) Option { return func(a *App) { a.clk = clock.OrSystem(c) } }

// WithNotifier replaces the systemd notifier.
func WithNotifier(n Notifier) Option { return func(a *App) { a.notify = n } }

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, clk: clock.System(), notify: SystemdNotifier()}
	for _, o := range opts {
		o(a)
	}

	a.logs, a.log = logx.New(cfg.Logging.Log())
	a.log = a.log.With(logx.String("comp", "app"))

	a.units = unitctl.New()
	defs, err := jobs.BuildAll(cfg, a.units)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}

	if sc, enabled := mapStorageConfig(cfg); enabled {
		st, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.bus = eventbus.New()
	a.runner = jobs.NewRunner(jobs.Options{
		Log:      a.log.With(logx.String("comp", "jobs")),
		Bus:      a.bus,
		Clock:    a.clk,
		Location: loc,
	})
	a.runner.Apply(defs)
	a.admin = admin.New(adminCfg, a.statusDoc, a.log.With(logx.String("comp", "admin")))
	return a, nil
}

func (a *App) Runner() *jobs.Runner { return a.runner }

// Store is nil when run history is disabled.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Status is the document served at /status.
type Status struct {
	Now      time.Time           `json:"now"`
	Started  time.Time           `json:"started"`
	Config   string              `json:"config"`
	Timezone string              `json:"timezone"`
	History  bool                `json:"history"`
	Jobs     []jobs.Status       `json:"jobs"`
	Bus      eventbus.Stats      `json:"bus"`
	Runtime  supervisor.Snapshot `json:"runtime"`
}

func (a *App) statusDoc() any {
	cfg := a.cfgm.Get()
	st := Status{
		Now:     a.clk.Now(),
		Started: a.started,
		Config:  a.cfgm.Path(),
		History: a.store != nil,
		Jobs:    a.runner.Snapshot(),
		Bus:     a.bus.Stats(),
	}
	if cfg != nil {
		if loc, err := cfg.Location(); err == nil {
			st.Timezone = loc.String()
		}
	}
	if a.sup != nil {
		st.Runtime = a.sup.Snapshot()
	}
	return st
}

func (a *App) Start(ctx context.Context) error {
	a.started = a.clk.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := jobs.BuildAll(cfg, a.units); err != nil {
			return err
		}
		_, err := mapAdminConfig(cfg)
		return err
	})

	if a.store != nil {
		events, unsub := a.bus.Subscribe(historyBuffer)
		a.stopRecorder = unsub
		// Drains until unsubscribed so runs cut short by shutdown are recorded.
		a.sup.Go0("history.record", func(context.Context) { a.record(events) })
	}

	a.runner.Start(a.sup.Context())
	if a.admin.Enabled() {
		a.admin.Start(a.sup.Context())
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if err := a.notify(NotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	}
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) record(events <-chan eventbus.Event) {
	for e := range events {
		if !eventbus.Terminal(e.Type) {
			continue
		}
		run, ok := e.Data.(eventbus.Run)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := a.store.AppendRun(ctx, storage.RunRecord{
			Job:      run.Job,
			Seq:      run.Seq,
			Outcome:  run.Outcome,
			Started:  run.Started,
			Duration: run.Duration,
			Err:      run.Err,
		})
		cancel()
		if err != nil {
			a.log.Warn("history append failed", logx.String("job", run.Job), logx.Err(err))
		}
	}
}

// reloadLoop applies hot-reloaded configs: logging, timezone, jobs and admin
// are live; storage needs a restart.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(c context.Context, oldCfg, newCfg *config.Config) {
	if err := a.notify(NotifyReloading); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	}
	defer func() { _ = a.notify(NotifyReady) }()

	sections, attrs, changedJobs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(changedJobs) > 0 {
		a.log.Debug("job config changes detected", logx.Any("jobs", changedJobs))
	}

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	a.logs.Apply(newCfg.Logging.Log())

	if loc, err := newCfg.Location(); err != nil {
		a.log.Warn("invalid timezone; keeping previous", logx.Err(err))
	} else {
		a.runner.SetLocation(loc)
	}

	if defs, err := jobs.BuildAll(newCfg, a.units); err != nil {
		a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
	} else {
		a.runner.Apply(defs)
	}

	if ac, err := mapAdminConfig(newCfg); err != nil {
		a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
	} else {
		a.admin.Reconfigure(c, ac)
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if err := a.notify(NotifyStopping); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	}

	// Runs in flight see cancellation through the runner, which is stopped
	// before the app context so their final events still reach history.
	a.step(ctx, "jobs", 5*time.Second, a.runner.Stop)
	a.step(ctx, "admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	if a.stopRecorder != nil {
		a.stopRecorder()
	}
	a.sup.Cancel()
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "units", time.Second, func(context.Context) error { return a.units.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	if cfg.Storage == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	// busy_timeout was validated by config.Check.
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
		Retain:      cfg.Storage.Retain,
	}, true
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	if cfg.Admin == nil {
		return admin.Config{}, nil
	}
	rt, err := config.ParseDurationField("admin.read_timeout", cfg.Admin.ReadTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	wt, err := config.ParseDurationField("admin.write_timeout", cfg.Admin.WriteTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Enabled:       cfg.Admin.Enabled,
		Addr:          strings.TrimSpace(cfg.Admin.Addr),
		Token:         cfg.Admin.Token,
		AllowInsecure: cfg.Admin.AllowInsecure,
		Pprof:         cfg.Admin.Pprof,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
	}, nil
}
