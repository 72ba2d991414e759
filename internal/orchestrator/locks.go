package orchestrator

import (
	"sync"
)

// sessionLocks serializes turns per session while letting different
// sessions proceed fully in parallel. Entries are refcounted so the map
// does not grow with every session ever seen.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*lockEntry)}
}

// acquire blocks until the session's lock is held and returns the
// release function.
func (s *sessionLocks) acquire(sessionID string) func() {
	s.mu.Lock()
	entry := s.locks[sessionID]
	if entry == nil {
		entry = &lockEntry{}
		s.locks[sessionID] = entry
	}
	entry.refs++
	s.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		s.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
