package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "pacer/pkg/logx"
)

// fileStore appends runs to <prefix>.runs.jsonl and compacts the file down to
// the newest retain records once it holds twice that many.
type fileStore struct {
	log    logx.Logger
	path   string
	retain int

	mu    sync.Mutex
	f     *os.File
	count int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:    log,
		path:   filepath.Join(dir, base+".runs.jsonl"),
		retain: cfg.retain(),
	}
	n, err := countLines(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	s.count = n

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendRun(_ context.Context, r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.count++
	if s.count >= 2*s.retain {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("run history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentRuns(_ context.Context, job string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}

	// Ring of the last limit matches.
	ring := make([]RunRecord, 0, limit)
	next := 0
	err := scanRecords(s.path, func(r RunRecord) {
		if job != "" && r.Job != job {
			return
		}
		if len(ring) < limit {
			ring = append(ring, r)
			return
		}
		ring[next] = r
		next = (next + 1) % limit
	})
	if err != nil {
		return nil, err
	}

	out := make([]RunRecord, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}

// compactLocked rewrites the file with the newest retain records.
func (s *fileStore) compactLocked() error {
	var all []RunRecord
	if err := scanRecords(s.path, func(r RunRecord) { all = append(all, r) }); err != nil {
		return err
	}
	if len(all) > s.retain {
		all = all[len(all)-s.retain:]
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range all {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	_ = s.f.Close()
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return err
	}
	s.f = nf
	s.count = len(all)
	s.log.Debug("run history compacted", logx.Int("kept", len(all)))
	return nil
}

// scanRecords calls fn for every decodable line; corrupt lines are skipped.
func scanRecords(path string, fn func(RunRecord)) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Job == "" {
			continue
		}
		fn(r)
	}
	return sc.Err()
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	buf := make([]byte, 32*1024)
	for {
		c, err := f.Read(buf)
		for _, b := range buf[:c] {
			if b == '\n' {
				n++
			}
		}
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}
