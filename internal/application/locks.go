package application

import "sync"

// accountLocks serialises operations on the same account id. Entries are
// reference counted and dropped when the last holder unlocks.
type accountLocks struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[int64]*refMutex)}
}

// lock blocks until the caller holds the lock for id and returns the
// matching unlock func.
func (l *accountLocks) lock(id int64) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &refMutex{}
		l.locks[id] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// size returns the number of ids currently locked or waited on.
func (l *accountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
