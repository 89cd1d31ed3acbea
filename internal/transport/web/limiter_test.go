package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientLimiterSweepsIdleVisitorsPeriodically(t *testing.T) {
	c := newClientLimiter(100, 10)
	require.NotNil(t, c)

	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, c.allowAt("10.0.0.1", t0))
	assert.True(t, c.allowAt("10.0.0.2", t0.Add(30*time.Second)))
	assert.Len(t, c.visitors, 2)

	// Past the TTL of the first visitor but inside the sweep interval: nothing is dropped.
	idle := t0.Add(visitorTTL + 45*time.Second)
	c.lastSweep = idle.Add(-sweepInterval / 2)

	assert.True(t, c.allowAt("10.0.0.3", idle))
	assert.Len(t, c.visitors, 3)

	// Next sweep drops both idle visitors.
	later := idle.Add(sweepInterval)

	assert.True(t, c.allowAt("10.0.0.3", later))
	assert.Len(t, c.visitors, 1)
	assert.Contains(t, c.visitors, "10.0.0.3")
	assert.Equal(t, later, c.lastSweep)
}

func TestClientLimiterDisabled(t *testing.T) {
	assert.Nil(t, newClientLimiter(0, 5))
}
