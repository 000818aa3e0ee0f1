package wearable

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/router-for-me/wearsync/internal/metrics"
	log "github.com/sirupsen/logrus"
)

var errSessionExists = errors.New("authorization session already exists for state")

// AuthorizationSession binds a state to the PKCE verifier issued with it.
type AuthorizationSession struct {
	State         string
	CodeVerifier  string
	CorrelationID string
	CreatedAt     time.Time
}

func (s AuthorizationSession) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// SessionStore keeps authorization sessions keyed by state. Every check-and-mutate runs
// under one lock, so Take hands a session to at most one caller.
type SessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]AuthorizationSession
}

// NewSessionStore creates a store whose sessions expire after ttl.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]AuthorizationSession),
	}
}

// Put stores a new session. A live session under the same state is never replaced.
func (s *SessionStore) Put(session AuthorizationSession) error {
	state := strings.TrimSpace(session.State)
	if state == "" {
		return ErrInvalidState
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.sessions[state]; ok && !existing.expired(now, s.ttl) {
		return errSessionExists
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.State = state
	s.sessions[state] = session
	metrics.SetLiveSessions(len(s.sessions))
	return nil
}

// Lookup returns the live session for state without consuming it.
func (s *SessionStore) Lookup(state string) (AuthorizationSession, bool) {
	state = strings.TrimSpace(state)
	if state == "" {
		return AuthorizationSession{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[state]
	if !ok || session.expired(s.now(), s.ttl) {
		return AuthorizationSession{}, false
	}
	return session, true
}

// Take returns and deletes the session for state in one step. Expired sessions are
// deleted and reported as absent.
func (s *SessionStore) Take(state string) (AuthorizationSession, bool) {
	state = strings.TrimSpace(state)
	if state == "" {
		return AuthorizationSession{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[state]
	if !ok {
		return AuthorizationSession{}, false
	}
	delete(s.sessions, state)
	metrics.SetLiveSessions(len(s.sessions))
	if session.expired(s.now(), s.ttl) {
		return AuthorizationSession{}, false
	}
	return session, true
}

// Discard deletes the session for state if present.
func (s *SessionStore) Discard(state string) {
	state = strings.TrimSpace(state)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, state)
	metrics.SetLiveSessions(len(s.sessions))
}

// Sweep purges expired sessions and returns how many were removed.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for state, session := range s.sessions {
		if session.expired(now, s.ttl) {
			delete(s.sessions, state)
			removed++
		}
	}
	metrics.SetLiveSessions(len(s.sessions))
	return removed
}

// Len reports the number of held sessions, expired or not.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *SessionStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.Sweep(); removed > 0 {
					log.Debugf("wearable auth: purged %d expired authorization session(s)", removed)
				}
			}
		}
	}()
}
