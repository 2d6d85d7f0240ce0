package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"pacer/internal/app"
	"pacer/internal/config"
	"pacer/internal/jobs"
	"pacer/internal/storage"
	logx "pacer/pkg/logx"
)

func main() {
	var (
		cfgPath string
		history string
		limit   int
		next    string
		count   int
		check   bool
	)
	flag.StringVar(&cfgPath, "config", "./pacerd.yaml", "path to config (yaml or json)")
	flag.StringVar(&history, "history", "", "print recent runs of `job` (\"*\" for all) and exit")
	flag.IntVar(&limit, "limit", 20, "number of runs printed by -history")
	flag.StringVar(&next, "next", "", "print the next fire times of `job` and exit")
	flag.IntVar(&count, "count", 5, "number of fire times printed by -next")
	flag.BoolVar(&check, "check", false, "validate the config and exit")
	flag.Parse()

	var err error
	switch {
	case check:
		err = checkConfig(os.Stdout, cfgPath)
	case history != "":
		err = printHistory(os.Stdout, cfgPath, history, limit)
	case next != "":
		err = printNext(os.Stdout, cfgPath, next, count, time.Now())
	default:
		err = run(cfgPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	fatal := a.Err()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError && fatal != nil {
		return fatal
	}
	return nil
}

func loadConfig(cfgPath string) (*config.Config, error) {
	return config.NewManager(cfgPath).Load()
}

func checkConfig(w io.Writer, cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	defs, err := jobs.BuildAll(cfg, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: ok (%d jobs enabled)\n", cfgPath, len(defs))
	return nil
}

func printHistory(w io.Writer, cfgPath, job string, limit int) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Storage == nil {
		return errors.New("history is disabled (no storage section)")
	}
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	st, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
		Retain:      cfg.Storage.Retain,
	}, logx.Nop())
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("history is disabled (storage driver none)")
	}
	defer st.Close()

	if job == "*" {
		job = ""
	}
	runs, err := st.RecentRuns(context.Background(), job, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSEQ\tSTARTED\tTOOK\tOUTCOME\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			r.Job, r.Seq, r.Started.Format(time.RFC3339), r.Duration.Round(time.Millisecond), r.Outcome, r.Err)
	}
	return tw.Flush()
}

func printNext(w io.Writer, cfgPath, job string, n int, now time.Time) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	jc, ok := cfg.Job(job)
	if !ok {
		return fmt.Errorf("unknown job %q", job)
	}
	def, err := jobs.Build(jc, nil)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s (%s)\n", def.Name, def.Trigger)
	for _, t := range jobs.NextN(def.Schedule, now.In(loc), n) {
		fmt.Fprintf(w, "  %s\n", t.Format(time.RFC3339))
	}
	return nil
}
