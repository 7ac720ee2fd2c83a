package repository

import (
	"sync"
	"time"
)

// SessionAbsoluteTTL is the hard lifetime of a session from creation,
// regardless of activity.
const SessionAbsoluteTTL = 1 * time.Hour

// SessionIdleTimeout is how long a session may go without activity
// before it is considered idle and revoked.
const SessionIdleTimeout = 30 * time.Minute

// SessionRepository stores Session records keyed by opaque token, with a
// secondary index from cardhostID so transport lookups by cardhost don't
// require a full scan.
type SessionRepository struct {
	mu           sync.RWMutex
	byToken      map[string]Session
	byCardhostID map[string]string // cardhostID -> token
}

// NewSessionRepository creates an empty session store.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		byToken:      make(map[string]Session),
		byCardhostID: make(map[string]string),
	}
}

// Create stores a new session. It overwrites any prior session for the
// same cardhostID, since a cardhost can be bound to only one controller
// at a time. A session created before its cardhost association (empty
// CardhostID) is not indexed: sessionsvc.Service.Create stores one of
// these first and re-Creates with the real cardhost id once Associate
// runs, and indexing the empty key would let that placeholder evict
// whatever unrelated session last held the "" slot.
func (r *SessionRepository) Create(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byToken[s.Token] = s
	if s.CardhostID == "" {
		return
	}
	if prevToken, ok := r.byCardhostID[s.CardhostID]; ok && prevToken != s.Token {
		delete(r.byToken, prevToken)
	}
	r.byCardhostID[s.CardhostID] = s.Token
}

// Get returns the session for token, if present.
func (r *SessionRepository) Get(token string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byToken[token]
	return s, ok
}

// FindByCardhostID returns the session currently bound to cardhostID.
func (r *SessionRepository) FindByCardhostID(cardhostID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.byCardhostID[cardhostID]
	if !ok {
		return Session{}, false
	}
	s, ok := r.byToken[token]
	return s, ok
}

// Touch updates a session's last-activity timestamp. It is a no-op if
// the session is unknown.
func (r *SessionRepository) Touch(token string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byToken[token]
	if !ok {
		return
	}
	s.LastActivityAt = at
	r.byToken[token] = s
}

// Revoke removes a session outright.
func (r *SessionRepository) Revoke(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	if r.byCardhostID[s.CardhostID] == token {
		delete(r.byCardhostID, s.CardhostID)
	}
}

// Valid reports whether token refers to a session that is neither
// absolute-expired nor idle-expired as of now.
func (s Session) Valid(now time.Time) bool {
	if now.After(s.ExpiresAt) {
		return false
	}
	if now.Sub(s.LastActivityAt) > SessionIdleTimeout {
		return false
	}
	return true
}

// CleanupExpired removes every session that has passed its absolute
// expiry or gone idle, returning how many were dropped.
func (r *SessionRepository) CleanupExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for token, s := range r.byToken {
		if !s.Valid(now) {
			delete(r.byToken, token)
			if r.byCardhostID[s.CardhostID] == token {
				delete(r.byCardhostID, s.CardhostID)
			}
			removed++
		}
	}
	return removed
}

// Count returns the number of live sessions.
func (r *SessionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}
