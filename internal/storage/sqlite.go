package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "pacer/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain int

	inserts    atomic.Uint64
	pruneEvery uint64
	closed     atomic.Bool
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}

	st := &sqliteStore{db: db, log: log, retain: cfg.retain(), pruneEvery: 500}
	log.Debug("sqlite store opened", logx.String("path", path), logx.Int("retain", st.retain))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(job, seq, outcome, started, duration_ns, err) VALUES(?,?,?,?,?,?)`,
		r.Job, int64(r.Seq), r.Outcome, r.Started.UTC().Format(time.RFC3339Nano), int64(r.Duration), nullStr(r.Err),
	)
	if err != nil {
		return err
	}
	if s.inserts.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if err := s.prune(pctx); err != nil {
			s.log.Debug("sqlite prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) RecentRuns(ctx context.Context, job string, limit int) ([]RunRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	q := `SELECT job, seq, outcome, started, duration_ns, COALESCE(err, '') FROM runs`
	args := []any{}
	if job != "" {
		q += ` WHERE job = ?`
		args = append(args, job)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r       RunRecord
			seq, ns int64
			started string
		)
		if err := rows.Scan(&r.Job, &seq, &r.Outcome, &started, &ns, &r.Err); err != nil {
			return nil, err
		}
		r.Seq = uint64(seq)
		r.Duration = time.Duration(ns)
		if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("runs.started: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// prune drops everything but the newest retain rows.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id <= (SELECT COALESCE(MAX(id), 0) FROM runs) - ?`, s.retain)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
