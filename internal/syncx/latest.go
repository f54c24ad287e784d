// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Latest holds the most recent value of T, replaced wholesale under a lock.
// Load reports whether a value was ever stored, which lets pollers tell
// "no result yet" apart from a zero-valued result.
type Latest[T any] struct {
	mu    sync.RWMutex
	value T
	set   bool
}

// Store replaces the held value.
func (l *Latest[T]) Store(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = v
	l.set = true
}

// Load returns the held value and whether one was ever stored.
func (l *Latest[T]) Load() (T, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.set
}

// Clear resets to the never-stored state.
func (l *Latest[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	l.value = zero
	l.set = false
}
