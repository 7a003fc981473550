// Package pathlock serializes write-class operations per key while letting
// operations on different keys run concurrently.
package pathlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out one mutex per key. Entries are reference counted and
// removed once no goroutine holds or waits for them.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

// Lock blocks until key is free and returns the function that releases it.
func (l *Locker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, key)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or waited for.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
