//go:build !linux

package unitctl

import "context"

type Manager struct{}

func New() *Manager { return &Manager{} }

func (m *Manager) Run(ctx context.Context, unit string, verb Verb) (string, error) {
	return "", ErrUnsupported
}

func (m *Manager) Close() error { return nil }
