// Package keylock provides one mutex per string key, created on demand and
// released once no goroutine holds or waits on it.
package keylock

import "sync"

// Map hands out per-key locks.
type Map struct {
	mu    sync.Mutex
	locks map[string]*keyed
}

type keyed struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty Map.
func New() *Map {
	return &Map{locks: make(map[string]*keyed)}
}

// Lock blocks until the lock for key is held and returns its release func.
func (m *Map) Lock(key string) (unlock func()) {
	m.mu.Lock()
	k, ok := m.locks[key]
	if !ok {
		k = &keyed{}
		m.locks[key] = k
	}
	k.refs++
	m.mu.Unlock()

	k.mu.Lock()
	return func() {
		k.mu.Unlock()
		m.mu.Lock()
		k.refs--
		if k.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
