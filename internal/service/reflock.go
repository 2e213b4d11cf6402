package service

import "sync"

// refLocker serializes reconciliation per payment reference so concurrent
// deliveries of the same event collapse into a single transition attempt.
// The (provider, payment_ref) unique index remains the durable backstop.
type refLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newRefLocker() *refLocker {
	return &refLocker{locks: make(map[string]*refLock)}
}

// Lock acquires the lock for key and returns its release function.
func (l *refLocker) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &refLock{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
