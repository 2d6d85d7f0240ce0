package clock

import (
	"context"
	"sync"
	"time"
)

// Manual is a Clock whose time only moves when told to.
// Safe for concurrent use.
type Manual struct {
	mu       sync.Mutex
	now      time.Time
	sleepers []*sleeper

	// changed is closed (and replaced) whenever the sleeper set changes.
	changed chan struct{}
}

type sleeper struct {
	until time.Time
	wake  chan struct{}
}

// NewManual returns a Manual clock frozen at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, changed: make(chan struct{})}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	m.mu.Lock()
	s := &sleeper{until: m.now.Add(d), wake: make(chan struct{})}
	m.sleepers = append(m.sleepers, s)
	m.notifyLocked()
	m.mu.Unlock()

	select {
	case <-s.wake:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		m.removeLocked(s)
		m.mu.Unlock()
		return ctx.Err()
	}
}

// Advance moves time forward by d and wakes every sleeper that is due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(m.now.Add(d))
}

// Set jumps to t. Moving backwards never wakes anyone.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(t)
}

// Sleepers reports how many goroutines are blocked in Sleep.
func (m *Manual) Sleepers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sleepers)
}

// BlockUntil waits until at least n goroutines are blocked in Sleep.
func (m *Manual) BlockUntil(n int) {
	for {
		m.mu.Lock()
		if len(m.sleepers) >= n {
			m.mu.Unlock()
			return
		}
		ch := m.changed
		m.mu.Unlock()
		<-ch
	}
}

func (m *Manual) setLocked(t time.Time) {
	m.now = t
	kept := m.sleepers[:0]
	fired := false
	for _, s := range m.sleepers {
		if !s.until.After(t) {
			close(s.wake)
			fired = true
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(m.sleepers); i++ {
		m.sleepers[i] = nil
	}
	m.sleepers = kept
	if fired {
		m.notifyLocked()
	}
}

func (m *Manual) removeLocked(s *sleeper) {
	for i, cur := range m.sleepers {
		if cur == s {
			last := len(m.sleepers) - 1
			copy(m.sleepers[i:], m.sleepers[i+1:])
			m.sleepers[last] = nil
			m.sleepers = m.sleepers[:last]
			m.notifyLocked()
			return
		}
	}
}

func (m *Manual) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}
