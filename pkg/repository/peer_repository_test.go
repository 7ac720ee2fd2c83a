package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerRepository(t *testing.T) {
	now := time.Now()

	t.Run("upsert registers a new peer", func(t *testing.T) {
		r := NewPeerRepository()
		p := Peer{PeerID: "peer_a", PublicKey: []byte("key"), RegisteredAt: now}
		got := r.Upsert(p)
		assert.Equal(t, p, got)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("upsert preserves prior authenticated state on re-registration", func(t *testing.T) {
		r := NewPeerRepository()
		r.Upsert(Peer{PeerID: "peer_a", PublicKey: []byte("key"), RegisteredAt: now})
		r.SetAuthenticated("peer_a", true, now)

		again := r.Upsert(Peer{PeerID: "peer_a", PublicKey: []byte("key"), RegisteredAt: now.Add(time.Minute)})
		assert.True(t, again.Authenticated)

		got, ok := r.Get("peer_a")
		require.True(t, ok)
		assert.True(t, got.Authenticated)
	})

	t.Run("set authenticated is a no-op for unknown peer", func(t *testing.T) {
		r := NewPeerRepository()
		r.SetAuthenticated("missing", true, now)
		_, ok := r.Get("missing")
		assert.False(t, ok)
	})

	t.Run("list connected excludes unauthenticated peers", func(t *testing.T) {
		r := NewPeerRepository()
		r.Upsert(Peer{PeerID: "peer_a", RegisteredAt: now})
		r.Upsert(Peer{PeerID: "peer_b", RegisteredAt: now})
		r.SetAuthenticated("peer_a", true, now)

		connected := r.ListConnected()
		require.Len(t, connected, 1)
		assert.Equal(t, "peer_a", connected[0].PeerID)
		assert.Equal(t, 2, r.Count())
		assert.Equal(t, 1, r.CountAuthenticated())
	})
}
