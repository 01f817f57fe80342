// Package session keeps per-user conversational state in process memory.
package session

import (
	"errors"
	"sync"
)

var ErrExists = errors.New("session: already exists")

// Store is keyed per-user state. Set refuses to overwrite; Put replaces.
type Store[V any] interface {
	Get(key string) (V, bool)
	Set(key string, v V) error
	Put(key string, v V)
	Delete(key string)
	Has(key string) bool
}

// Memory is a Store backed by a map guarded by a RWMutex.
type Memory[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{items: make(map[string]V)}
}

func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *Memory[V]) Set(key string, v V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; ok {
		return ErrExists
	}
	m.items[key] = v
	return nil
}

func (m *Memory[V]) Put(key string, v V) {
	m.mu.Lock()
	m.items[key] = v
	m.mu.Unlock()
}

// Delete is a no-op for missing keys.
func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
}

func (m *Memory[V]) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.items[key]
	return ok
}

func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
