package flow

import "sync"

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// SessionLocks is a keyed mutex: one lock per user id, dropped when nobody holds or waits for it.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

// NewSessionLocks creates an empty lock set.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sessionLock)}
}

// Lock blocks until the caller holds userID's lock and returns the matching unlock function.
func (l *SessionLocks) Lock(userID string) func() {
	l.mu.Lock()
	sl, ok := l.locks[userID]
	if !ok {
		sl = &sessionLock{}
		l.locks[userID] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

// Len returns how many keys currently have holders or waiters.
func (l *SessionLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
