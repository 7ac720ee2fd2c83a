package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeAuthCounter struct{ n int }

func (f fakeAuthCounter) AuthenticatedCount() int { return f.n }

type fakeSessionCounter struct{ n int }

func (f fakeSessionCounter) Count() int { return f.n }

type fakeConnCounter struct{ n int }

func (f fakeConnCounter) ActiveCardhosts() int { return f.n }

func TestCheckHealth(t *testing.T) {
	c := NewChecker(fakeAuthCounter{}, fakeAuthCounter{}, fakeSessionCounter{}, fakeConnCounter{})
	status := c.CheckHealth()
	assert.True(t, status.OK)
	assert.True(t, status.Running)
}

func TestCheckStats(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Second)
	c := NewCheckerWithClock(
		fakeAuthCounter{n: 3},
		fakeAuthCounter{n: 2},
		fakeSessionCounter{n: 5},
		fakeConnCounter{n: 2},
		func() time.Time { return start },
	)
	c.now = func() time.Time { return now }

	stats := c.CheckStats()
	assert.True(t, stats.Running)
	assert.Equal(t, 3, stats.ActiveControllers)
	assert.Equal(t, 2, stats.ActiveCardhosts)
	assert.Equal(t, 5, stats.ActiveSessions)
	assert.Equal(t, 2, stats.ConnectedCardhosts)
	assert.Equal(t, int64(90), stats.UptimeSeconds)
}
