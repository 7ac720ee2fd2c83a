package repository

import (
	"sync"
	"time"
)

// ConnectionRepository tracks live sockets keyed by their natural key (a
// session token for a Controller connection, a peer id for a Cardhost
// connection). Re-registering a key closes whatever socket previously
// held it before installing the new one.
type ConnectionRepository struct {
	mu    sync.Mutex
	conns map[string]Connection
}

// NewConnectionRepository creates an empty connection registry.
func NewConnectionRepository() *ConnectionRepository {
	return &ConnectionRepository{conns: make(map[string]Connection)}
}

// Register installs conn under key, closing and discarding any
// previous connection at that key.
func (r *ConnectionRepository) Register(conn Connection) {
	r.mu.Lock()
	prev, had := r.conns[conn.Key]
	r.conns[conn.Key] = conn
	r.mu.Unlock()

	if had && prev.Close != nil {
		_ = prev.Close()
	}
}

// Get returns the connection registered under key, if any.
func (r *ConnectionRepository) Get(key string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[key]
	return c, ok
}

// Touch updates the last-activity timestamp for key. No-op if unknown.
func (r *ConnectionRepository) Touch(key string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[key]
	if !ok {
		return
	}
	c.LastActivityAt = at
	r.conns[key] = c
}

// Unregister removes the connection at key only if it is still the one
// passed in — a later, already-replaced connection is left alone. It
// does not call Close; callers close their own socket on disconnect.
func (r *ConnectionRepository) Unregister(key string, conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.conns[key]; ok && current.ConnectedAt.Equal(conn.ConnectedAt) {
		delete(r.conns, key)
	}
}

// Count returns the number of live connections.
func (r *ConnectionRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
