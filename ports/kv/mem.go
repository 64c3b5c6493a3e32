package kv

import (
	"context"
	"sync"
)

type memEntry struct {
	value    []byte
	revision uint64
}

// MemStore is an in-memory Store, safe for concurrent use.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*memEntry)}
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	val := make([]byte, len(e.value))
	copy(val, e.value)
	return Entry{Key: key, Value: val, Revision: e.revision}, nil
}

func (m *MemStore) Put(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &memEntry{}
		m.entries[key] = e
	}
	e.value = clone(value)
	e.revision++
	return e.revision, nil
}

func (m *MemStore) Create(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return 0, ErrRevisionMismatch
	}
	m.entries[key] = &memEntry{value: clone(value), revision: 1}
	return 1, nil
}

func (m *MemStore) Update(_ context.Context, key string, value []byte, rev uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, ErrNotFound
	}
	if e.revision != rev {
		return 0, ErrRevisionMismatch
	}
	e.value = clone(value)
	e.revision++
	return e.revision, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ Store = (*MemStore)(nil)
