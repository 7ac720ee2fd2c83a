// Package sessionsvc issues and validates session tokens binding a
// Controller to a Cardhost. It runs no cleanup goroutine of its own;
// CleanupExpired and CleanupIdle are called from the Router's shared
// cleanup ticker.
package sessionsvc

import (
	"time"

	"github.com/cardbridge/router/internal/metrics"
	"github.com/cardbridge/router/pkg/identity"
	"github.com/cardbridge/router/pkg/repository"
)

// Clock returns the current time; swappable in tests.
type Clock func() time.Time

// Session is the read-only view handed back to callers.
type Session struct {
	Token          string
	ControllerID   string
	CardhostID     string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
}

// Service creates, associates, and reaps sessions.
type Service struct {
	sessions *repository.SessionRepository
	now      Clock
}

// New constructs a Service backed by a fresh repository.
func New() *Service {
	return &Service{sessions: repository.NewSessionRepository(), now: time.Now}
}

// NewWithClock is New but with an injectable clock.
func NewWithClock(now Clock) *Service {
	s := New()
	s.now = now
	return s
}

// Create issues a fresh token for controllerID. The cardhost
// association happens later via Associate.
func (s *Service) Create(controllerID string) (Session, error) {
	token, err := identity.RandomBase64(identity.MinRandomBytes)
	if err != nil {
		return Session{}, err
	}
	token = "sess_" + token

	now := s.now()
	rec := repository.Session{
		Token:          token,
		ControllerID:   controllerID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(repository.SessionAbsoluteTTL),
		LastActivityAt: now,
	}
	s.sessions.Create(rec)
	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Set(float64(s.sessions.Count()))
	return toSession(rec), nil
}

// Associate binds cardhostID to the session at token. A second create
// for the same (controllerId, cardhostId) tuple supersedes any prior
// session on that cardhost, since SessionRepository.Create evicts the
// cardhost's previous token.
func (s *Service) Associate(token, cardhostID string) bool {
	rec, ok := s.sessions.Get(token)
	if !ok {
		return false
	}
	if rec.CardhostID == cardhostID {
		return true
	}
	rec.CardhostID = cardhostID
	s.sessions.Create(rec)
	return true
}

// Validate returns the session for token if it is present and neither
// absolute- nor idle-expired. An expired session is deleted as a side
// effect.
func (s *Service) Validate(token string) (Session, bool) {
	rec, ok := s.sessions.Get(token)
	if !ok {
		return Session{}, false
	}
	now := s.now()
	if !rec.Valid(now) {
		s.sessions.Revoke(token)
		return Session{}, false
	}
	return toSession(rec), true
}

// FindByCardhost returns the session currently bound to cardhostID.
func (s *Service) FindByCardhost(cardhostID string) (Session, bool) {
	rec, ok := s.sessions.FindByCardhostID(cardhostID)
	if !ok {
		return Session{}, false
	}
	if !rec.Valid(s.now()) {
		s.sessions.Revoke(rec.Token)
		return Session{}, false
	}
	return toSession(rec), true
}

// Touch refreshes a session's last-activity timestamp.
func (s *Service) Touch(token string) {
	s.sessions.Touch(token, s.now())
}

// Revoke removes a session outright.
func (s *Service) Revoke(token string) {
	s.sessions.Revoke(token)
	metrics.SessionsActive.Set(float64(s.sessions.Count()))
}

// CleanupExpired removes sessions past their absolute expiry or idle
// timeout (SessionRepository.CleanupExpired checks both in one pass).
func (s *Service) CleanupExpired() int {
	n := s.sessions.CleanupExpired(s.now())
	if n > 0 {
		metrics.SessionsExpired.WithLabelValues("absolute_ttl_or_idle").Add(float64(n))
		metrics.SessionsActive.Set(float64(s.sessions.Count()))
	}
	return n
}

// CleanupIdle removes sessions idle past the idle timeout. In this
// implementation idle and absolute expiry are checked together by
// CleanupExpired since both are evaluated from the same Valid check;
// CleanupIdle is kept as a distinct entry point so the composition
// root can name both cleanup tasks explicitly.
func (s *Service) CleanupIdle() int {
	return s.sessions.CleanupExpired(s.now())
}

// Count returns the number of live sessions, used by /stats.
func (s *Service) Count() int {
	return s.sessions.Count()
}

func toSession(rec repository.Session) Session {
	return Session{
		Token:          rec.Token,
		ControllerID:   rec.ControllerID,
		CardhostID:     rec.CardhostID,
		IssuedAt:       rec.IssuedAt,
		ExpiresAt:      rec.ExpiresAt,
		LastActivityAt: rec.LastActivityAt,
	}
}
