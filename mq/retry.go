package mq

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// ReconnectPolicy configures the supervised reconnect loop.
type ReconnectPolicy struct {
	// InitialBackoff is the wait before the second dial attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps a single wait.
	MaxBackoff time.Duration
	// Multiplier grows the wait after every failed attempt.
	Multiplier float64
	// Jitter spreads each wait by +/- this fraction (0.0 to 1.0).
	Jitter float64
	// MaxRetries consecutive failures open the circuit.
	MaxRetries int
	// Cooldown is how long the circuit stays open before a half-open probe.
	Cooldown time.Duration
}

// DefaultReconnectPolicy returns the defaults used when config leaves values unset.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
		MaxRetries:     10,
		Cooldown:       time.Minute,
	}
}

// Backoff returns the wait before attempt n (n >= 1 is the first retry).
func (p ReconnectPolicy) Backoff(attempt int, rnd func() float64) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if max := float64(p.MaxBackoff); p.MaxBackoff > 0 && d > max {
		d = max
	}
	if p.Jitter > 0 && rnd != nil {
		d += d * p.Jitter * (2*rnd() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the broker is considered down.
var ErrCircuitOpen = errors.New("broker circuit breaker is open")

// CircuitBreaker opens after a run of consecutive failures and probes again after a cooldown.
type CircuitBreaker struct {
	mu sync.Mutex

	threshold int
	cooldown  time.Duration
	now       func() time.Time

	state    CircuitState
	failures int
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may proceed, moving open -> half-open once the cooldown passed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
	}
	return nil
}

// RecordSuccess closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
}

// RecordFailure counts a failure; a failing half-open probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current circuit state without advancing it.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RemainingCooldown is how long an open breaker still refuses calls.
func (cb *CircuitBreaker) RemainingCooldown() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return 0
	}
	left := cb.cooldown - cb.now().Sub(cb.openedAt)
	if left < 0 {
		return 0
	}
	return left
}

func defaultJitterSource() func() float64 {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var mu sync.Mutex
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return r.Float64()
	}
}
