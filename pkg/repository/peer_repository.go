package repository

import (
	"sync"
	"time"
)

// PeerRepository stores Peer records for one identifier space
// (Controllers or Cardhosts — never both in the same instance).
type PeerRepository struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

// NewPeerRepository creates an empty peer store.
func NewPeerRepository() *PeerRepository {
	return &PeerRepository{peers: make(map[string]Peer)}
}

// Upsert inserts a new peer record or returns the existing one,
// preserving any prior Authenticated/AuthenticatedAt state. This backs
// Auth.initiate's "registers or updates the peer record (preserves
// prior authenticated flag)" behavior.
func (r *PeerRepository) Upsert(peer Peer) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.peers[peer.PeerID]; ok {
		return existing
	}
	r.peers[peer.PeerID] = peer
	return peer
}

// Get returns the peer record for id, if any.
func (r *PeerRepository) Get(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// SetAuthenticated updates the authenticated flag and timestamp for id.
// It is a no-op if the peer is unknown.
func (r *PeerRepository) SetAuthenticated(id string, authenticated bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return
	}
	p.Authenticated = authenticated
	if authenticated {
		p.AuthenticatedAt = at
	}
	r.peers[id] = p
}

// ListConnected returns a snapshot of every peer currently authenticated,
// used by Cardhost-only list operations.
func (r *PeerRepository) ListConnected() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.Authenticated {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of registered peers (connected or not).
func (r *PeerRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// CountAuthenticated returns the number of currently authenticated peers.
func (r *PeerRepository) CountAuthenticated() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.peers {
		if p.Authenticated {
			n++
		}
	}
	return n
}
