package state

import (
	"context"
	"sync"
)

// Memory is a process-local Store. It loses everything on exit.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
	sets   int
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.sets++
	return nil
}

// Sets returns how many writes the store has accepted.
func (m *Memory) Sets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sets
}

func (m *Memory) Close() error {
	return nil
}
