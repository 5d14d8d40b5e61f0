package mq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := ReconnectPolicy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, Multiplier: 2}

	assert.Equal(t, time.Duration(0), p.Backoff(0, nil))
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1, nil))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2, nil))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3, nil))
	assert.Equal(t, time.Second, p.Backoff(10, nil))
}

func TestBackoffJitterStaysInBand(t *testing.T) {
	p := ReconnectPolicy{InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 2, Jitter: 0.2}

	assert.Equal(t, 800*time.Millisecond, p.Backoff(1, func() float64 { return 0 }))
	assert.Equal(t, 1200*time.Millisecond, p.Backoff(1, func() float64 { return 1 }))
	assert.Equal(t, time.Second, p.Backoff(1, func() float64 { return 0.5 }))
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cb := NewCircuitBreaker(3, time.Minute)
	cb.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		assert.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
	assert.Equal(t, time.Minute, cb.RemainingCooldown())

	now = now.Add(time.Minute)
	assert.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// a failed probe reopens immediately
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Minute)
	assert.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Zero(t, cb.RemainingCooldown())
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}
