package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionRepository(t *testing.T) {
	now := time.Now()

	t.Run("register then get round-trips the connection", func(t *testing.T) {
		r := NewConnectionRepository()
		c := Connection{Key: "peer_a", ConnectedAt: now, LastActivityAt: now}
		r.Register(c)

		got, ok := r.Get("peer_a")
		require.True(t, ok)
		assert.Equal(t, c.ConnectedAt, got.ConnectedAt)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("re-registering the same key closes the previous socket", func(t *testing.T) {
		r := NewConnectionRepository()
		closed := false
		first := Connection{
			Key:         "peer_a",
			ConnectedAt: now,
			Close:       func() error { closed = true; return nil },
		}
		r.Register(first)

		second := Connection{Key: "peer_a", ConnectedAt: now.Add(time.Second)}
		r.Register(second)

		assert.True(t, closed)
		got, ok := r.Get("peer_a")
		require.True(t, ok)
		assert.True(t, got.ConnectedAt.Equal(second.ConnectedAt))
		assert.Equal(t, 1, r.Count())
	})

	t.Run("touch refreshes last activity", func(t *testing.T) {
		r := NewConnectionRepository()
		r.Register(Connection{Key: "peer_a", ConnectedAt: now, LastActivityAt: now})

		later := now.Add(time.Minute)
		r.Touch("peer_a", later)

		got, _ := r.Get("peer_a")
		assert.True(t, got.LastActivityAt.Equal(later))
	})

	t.Run("unregister only removes the matching generation", func(t *testing.T) {
		r := NewConnectionRepository()
		first := Connection{Key: "peer_a", ConnectedAt: now}
		r.Register(first)

		second := Connection{Key: "peer_a", ConnectedAt: now.Add(time.Second)}
		r.Register(second)

		r.Unregister("peer_a", first)
		_, ok := r.Get("peer_a")
		assert.True(t, ok, "stale unregister must not remove the current connection")

		r.Unregister("peer_a", second)
		_, ok = r.Get("peer_a")
		assert.False(t, ok)
	})
}
