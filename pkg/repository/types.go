// Package repository holds the in-memory stores backing the Router's
// Peer, Challenge, Session, and Connection records. Each store owns its
// map and mutex; callers never reach into another store's lock.
package repository

import "time"

// Peer is a Controller or Cardhost identified by a derived peer id.
// The same shape serves both flavors; disjoint identifier spaces are
// kept by using separate repository instances, not separate types.
type Peer struct {
	PeerID          string
	PublicKey       []byte
	Authenticated   bool
	AuthenticatedAt time.Time
	RegisteredAt    time.Time
}

// Challenge is a nonce a peer must sign to prove possession of its
// private key.
type Challenge struct {
	PeerID   string
	Nonce    string
	IssuedAt time.Time
}

// Session binds an authenticated Controller to a connected Cardhost.
type Session struct {
	Token          string
	ControllerID   string
	CardhostID     string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	LastActivityAt time.Time
}

// Sink writes one envelope to a peer's socket. Implementations must be
// safe to call from any goroutine; errors mean the underlying socket is
// considered gone.
type Sink func(envelope []byte) error

// Connection is one live socket: a controller-conn keyed by session
// token, or a cardhost-conn keyed by peer id.
type Connection struct {
	Key            string
	Sink           Sink
	Close          func() error
	ConnectedAt    time.Time
	LastActivityAt time.Time
}
