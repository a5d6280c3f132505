package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"taskcal/internal/dateutil"
)

type session struct {
	username  string
	expiresAt time.Time
}

// SessionStore is a process-wide keyed session store with TTL eviction.
// It is passed by reference to whichever component needs it; there is no
// ambient singleton. Expired entries stop validating immediately and are
// physically removed by Evict, which the serve loop schedules via cron.
type SessionStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	clock    dateutil.Clock
	sessions map[string]session
}

// NewSessionStore returns a SessionStore whose sessions live for ttl.
// clock defaults to the system clock when nil.
func NewSessionStore(ttl time.Duration, clock dateutil.Clock) *SessionStore {
	if clock == nil {
		clock = dateutil.SystemClock
	}
	return &SessionStore{
		ttl:      ttl,
		clock:    clock,
		sessions: make(map[string]session),
	}
}

// New creates a session for username and returns its opaque id.
func (s *SessionStore) New(username string) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = session{username: username, expiresAt: s.clock().Add(s.ttl)}
	s.mu.Unlock()
	return id
}

// Username resolves a session id to its username. Expired or unknown ids
// report false.
func (s *SessionStore) Username(id string) (string, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || s.clock().After(sess.expiresAt) {
		return "", false
	}
	return sess.username, true
}

// Valid reports whether id names a live session.
func (s *SessionStore) Valid(id string) bool {
	_, ok := s.Username(id)
	return ok
}

// Delete removes a session (logout).
func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Evict removes expired sessions and returns how many were dropped.
func (s *SessionStore) Evict() int {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of stored sessions, expired ones included.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
