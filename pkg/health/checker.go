package health

import "time"

// Clock lets tests fake the current time.
type Clock func() time.Time

// AuthCounter reports how many peers of one kind have completed
// challenge/response authentication.
type AuthCounter interface {
	AuthenticatedCount() int
}

// SessionCounter reports how many relay sessions are currently live.
type SessionCounter interface {
	Count() int
}

// ConnectionCounter reports how many cardhost sinks are currently
// registered with the transport service.
type ConnectionCounter interface {
	ActiveCardhosts() int
}

// Checker assembles the Router's liveness and stats snapshots from the
// services that already track their own counts. It holds no state of
// its own beyond the process start time.
type Checker struct {
	controllerAuth AuthCounter
	cardhostAuth   AuthCounter
	sessions       SessionCounter
	conns          ConnectionCounter
	startedAt      time.Time
	now            Clock
}

// NewChecker wires a Checker against the live service instances.
func NewChecker(controllerAuth, cardhostAuth AuthCounter, sessions SessionCounter, conns ConnectionCounter) *Checker {
	return &Checker{
		controllerAuth: controllerAuth,
		cardhostAuth:   cardhostAuth,
		sessions:       sessions,
		conns:          conns,
		startedAt:      time.Now(),
		now:            time.Now,
	}
}

// NewCheckerWithClock is NewChecker with an injectable clock, for tests.
func NewCheckerWithClock(controllerAuth, cardhostAuth AuthCounter, sessions SessionCounter, conns ConnectionCounter, now Clock) *Checker {
	c := NewChecker(controllerAuth, cardhostAuth, sessions, conns)
	c.now = now
	c.startedAt = now()
	return c
}

// CheckHealth returns the bare liveness payload for GET /health.
func (c *Checker) CheckHealth() Status {
	return Status{OK: true, Running: true}
}

// CheckStats returns the operational snapshot for GET /stats.
func (c *Checker) CheckStats() Stats {
	return Stats{
		Running:            true,
		ActiveControllers:  c.controllerAuth.AuthenticatedCount(),
		ActiveCardhosts:    c.cardhostAuth.AuthenticatedCount(),
		ActiveSessions:     c.sessions.Count(),
		ConnectedCardhosts: c.conns.ActiveCardhosts(),
		UptimeSeconds:      int64(c.now().Sub(c.startedAt).Seconds()),
	}
}
