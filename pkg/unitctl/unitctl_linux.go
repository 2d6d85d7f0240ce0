//go:build linux

package unitctl

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager queues unit jobs on the system bus. The connection is opened on
// first use and reopened if systemd dropped it.
type Manager struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	closed bool
}

func New() *Manager { return &Manager{} }

func (m *Manager) connect(ctx context.Context) (*dbus.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.conn != nil && m.conn.Connected() {
		return m.conn, nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	m.conn = conn
	return conn, nil
}

// Run queues verb for unit in "replace" mode and waits for the job result.
// The returned string is systemd's job result ("done" on success).
func (m *Manager) Run(ctx context.Context, unit string, verb Verb) (string, error) {
	conn, err := m.connect(ctx)
	if err != nil {
		return "", err
	}
	name := UnitName(unit)
	ch := make(chan string, 1)

	switch verb {
	case Start:
		_, err = conn.StartUnitContext(ctx, name, "replace", ch)
	case Stop:
		_, err = conn.StopUnitContext(ctx, name, "replace", ch)
	case Restart:
		_, err = conn.RestartUnitContext(ctx, name, "replace", ch)
	case TryRestart:
		_, err = conn.TryRestartUnitContext(ctx, name, "replace", ch)
	case Reload:
		_, err = conn.ReloadUnitContext(ctx, name, "replace", ch)
	default:
		return "", fmt.Errorf("unitctl: unknown verb %q", verb)
	}
	if err != nil {
		return "", fmt.Errorf("failed to %s %s: %w", verb, name, err)
	}

	select {
	case res := <-ch:
		if res != "done" {
			return res, fmt.Errorf("%w: %s %s: %s", ErrJobFailed, verb, name, res)
		}
		return res, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}
