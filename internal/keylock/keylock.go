// Package keylock provides per-key mutual exclusion.
//
// Both evaluators are read-modify-write sequences over externally persisted
// aggregate state. Two concurrent evaluations for the same user could read a
// stale risk score and stale window counts, then both write, losing updates.
// A Mutex keyed by user ID (or session ID for reviews) serializes calls for
// one key while leaving different keys fully parallel.
package keylock

import "sync"

// Mutex is a set of named locks. The zero value is not usable; call New.
type Mutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty keyed mutex.
func New() *Mutex {
	return &Mutex{locks: make(map[string]*entry)}
}

// Lock acquires the lock for key, blocking until it is available. Entries are
// reference counted so the map does not grow with the key space.
func (m *Mutex) Lock(key string) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the lock for key. Unlocking a key that is not held panics,
// same as sync.Mutex.
func (m *Mutex) Unlock(key string) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		m.mu.Unlock()
		panic("keylock: unlock of unlocked key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()

	e.mu.Unlock()
}
