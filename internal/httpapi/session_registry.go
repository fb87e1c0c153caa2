package httpapi

import (
	"sync"
	"time"
)

// SessionRegistry tracks live websocket sessions and supports graceful draining.
// When draining is enabled, new sessions are rejected while open ones
// finish naturally or are closed by CloseAll.
//
// The mu mutex makes the draining check and wg.Add atomic in Add(), so no
// session can slip in between StartDraining and Wait.
type SessionRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	sessions map[string]*registeredSession
	now      func() time.Time
}

type registeredSession struct {
	close      func()
	lastActive time.Time
}

// NewSessionRegistry creates a new SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*registeredSession),
		now:      time.Now,
	}
}

// Add registers a live session. close must end the session's connection.
// Returns false if the registry is draining or id is already registered.
func (sr *SessionRegistry) Add(id string, close func()) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.draining {
		return false
	}
	if _, ok := sr.sessions[id]; ok {
		return false
	}
	sr.sessions[id] = &registeredSession{close: close, lastActive: sr.now()}
	sr.wg.Add(1)
	return true
}

// Touch marks the session as active now.
func (sr *SessionRegistry) Touch(id string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if s, ok := sr.sessions[id]; ok {
		s.lastActive = sr.now()
	}
}

// Remove marks a session as finished. Must be called exactly once per successful Add.
func (sr *SessionRegistry) Remove(id string) {
	sr.mu.Lock()
	_, ok := sr.sessions[id]
	delete(sr.sessions, id)
	sr.mu.Unlock()

	if ok {
		sr.wg.Done()
	}
}

// CloseIdle closes every session idle for longer than maxIdle and returns
// how many were closed. Sessions stay registered until their handler calls Remove.
func (sr *SessionRegistry) CloseIdle(maxIdle time.Duration) int {
	cutoff := sr.now().Add(-maxIdle)

	sr.mu.Lock()
	var idle []func()
	for _, s := range sr.sessions {
		if s.lastActive.Before(cutoff) {
			idle = append(idle, s.close)
		}
	}
	sr.mu.Unlock()

	for _, closeFn := range idle {
		closeFn()
	}
	return len(idle)
}

// CloseAll closes every registered session.
func (sr *SessionRegistry) CloseAll() {
	sr.mu.Lock()
	all := make([]func(), 0, len(sr.sessions))
	for _, s := range sr.sessions {
		all = append(all, s.close)
	}
	sr.mu.Unlock()

	for _, closeFn := range all {
		closeFn()
	}
}

// StartDraining sets the draining flag so that future Add calls return false.
func (sr *SessionRegistry) StartDraining() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (sr *SessionRegistry) IsDraining() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.draining
}

// ActiveCount returns the number of live sessions.
func (sr *SessionRegistry) ActiveCount() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return len(sr.sessions)
}

// Wait blocks until every registered session has been removed.
func (sr *SessionRegistry) Wait() {
	sr.wg.Wait()
}
