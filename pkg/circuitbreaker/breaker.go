package circuitbreaker

import (
	"sync"
	"time"

	"sandboxnotify/pkg/clock"
	"sandboxnotify/pkg/metrics"
)

// Breaker is the per-channel delivery breaker. It opens after Threshold
// consecutive terminal failures and rejects calls until the cooldown elapses.
// The first call after the cooldown is let through; another failure opens it
// again straight away because the failure count is only cleared by a success.
type Breaker struct {
	mu        sync.Mutex
	name      string
	threshold int
	cooldown  time.Duration
	clock     clock.Clock

	consecutiveFailures int
	openUntil           time.Time
}

// Snapshot is a point-in-time copy of a Breaker's state.
type Snapshot struct {
	Name                string    `json:"name"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Threshold           int       `json:"threshold"`
	Open                bool      `json:"open"`
	OpenUntil           time.Time `json:"open_until,omitempty"`
}

func NewBreaker(name string, threshold int, cooldown time.Duration, clk clock.Clock) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	if clk == nil {
		clk = clock.Real()
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clk,
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

// Allow reports whether a call may proceed. When it returns false the second
// value is the remaining cooldown.
func (b *Breaker) Allow() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if now.Before(b.openUntil) {
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "open").Inc()
		return false, b.openUntil.Sub(now)
	}
	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "closed").Inc()
	return true, 0
}

// RecordFailure counts a terminal failure and reports whether it opened the
// breaker.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	metrics.CircuitBreakerFailures.WithLabelValues(b.name).Inc()
	if b.consecutiveFailures < b.threshold {
		return false
	}
	b.openUntil = b.clock.Now().Add(b.cooldown)
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(2)
	return true
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.openUntil = time.Time{}
	metrics.CircuitBreakerState.WithLabelValues(b.name).Set(0)
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:                b.name,
		ConsecutiveFailures: b.consecutiveFailures,
		Threshold:           b.threshold,
		Open:                b.clock.Now().Before(b.openUntil),
	}
	if s.Open {
		s.OpenUntil = b.openUntil
	}
	return s
}
