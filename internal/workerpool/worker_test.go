package workerpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldRecycleThreshold(t *testing.T) {
	w := newWorker(1, "127.0.0.1:9001")
	w.requestCount.Store(99)
	assert.False(t, w.ShouldRecycle(100))
	w.requestCount.Store(100)
	assert.True(t, w.ShouldRecycle(100))
}

func TestShouldRecycleDisabledWhenZero(t *testing.T) {
	w := newWorker(1, "127.0.0.1:9001")
	w.requestCount.Store(1_000_000)
	assert.False(t, w.ShouldRecycle(0))
}

func TestAliveWithoutForceChecksState(t *testing.T) {
	w := newWorker(1, "127.0.0.1:9001")
	w.setState(StateStarting)
	assert.False(t, w.Alive(false))
	w.setState(StateIdle)
	assert.True(t, w.Alive(false))
	w.setState(StateCrashed)
	assert.False(t, w.Alive(false))
}

func TestIdleForZeroWhileClientsAttached(t *testing.T) {
	w := newWorker(1, "127.0.0.1:9001")
	w.incClients()
	assert.Equal(t, time.Duration(0), w.IdleFor())
}

func TestIdleForMeasuresSinceLastUse(t *testing.T) {
	w := newWorker(1, "127.0.0.1:9001")
	w.mu.Lock()
	w.lastUsed = time.Now().Add(-time.Minute)
	w.mu.Unlock()
	assert.GreaterOrEqual(t, w.IdleFor(), 59*time.Second)
}

func TestDecClientsNeverGoesNegative(t *testing.T) {
	w := newWorker(1, "127.0.0.1:9001")
	w.decClients()
	assert.Equal(t, 0, w.ClientCount())
}
