package store

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// InMemory implements Store using local memory. Keys expire lazily on the
// next access, which is enough for the lock algorithm since both operations
// touch the key they act on.
type InMemory struct {
	mu    sync.Mutex
	items map[string]entry
	name  string
}

// NewInMemory returns an empty in-memory store labelled with name.
func NewInMemory(name string) *InMemory {
	if name == "" {
		name = "memory"
	}
	return &InMemory{items: make(map[string]entry), name: name}
}

func (m *InMemory) expired(e entry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// SetIfAbsent implements Store.
func (m *InMemory) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[key]; ok && !m.expired(e) {
		return false, nil
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.items[key] = e
	return true, nil
}

// DeleteIfMatch implements Store.
func (m *InMemory) DeleteIfMatch(_ context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok || m.expired(e) {
		delete(m.items, key)
		return false, nil
	}
	if e.value != expected {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

// Addr implements Store.
func (m *InMemory) Addr() string { return m.name }

// Get reports the live value stored under key. Intended for tests and
// debugging; the lock algorithm itself never reads values back.
func (m *InMemory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok || m.expired(e) {
		return "", false
	}
	return e.value, true
}
