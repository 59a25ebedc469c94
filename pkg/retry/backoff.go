package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// MaxJitterFactor bounds the jittered delay: a base b becomes a value in
// [b, MaxJitterFactor*b).
const MaxJitterFactor = 1.5

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = 0
	return exp
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64, clk backoff.Clock) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	if clk != nil {
		exp.Clock = clk
	}
	exp.Reset()
	return exp
}

func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}

// Jitter scales base by 1 + (MaxJitterFactor-1)*r. r must be in [0, 1).
func Jitter(base time.Duration, r float64) time.Duration {
	return time.Duration(float64(base) * (1 + (MaxJitterFactor-1)*r))
}

// FixedSchedule yields its steps in order and repeats the last one.
type FixedSchedule struct {
	Steps []time.Duration
	next  int
}

func NewFixedSchedule(steps ...time.Duration) *FixedSchedule {
	return &FixedSchedule{Steps: steps}
}

func (s *FixedSchedule) NextBackOff() time.Duration {
	if len(s.Steps) == 0 {
		return backoff.Stop
	}
	i := s.next
	if i >= len(s.Steps) {
		i = len(s.Steps) - 1
	}
	s.next++
	return s.Steps[i]
}

func (s *FixedSchedule) Reset() {
	s.next = 0
}

// JitteredExponential grows Base by Multiplier per retry (capped at Max) and
// applies Jitter to every step.
type JitteredExponential struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	attempt int
}

func NewJitteredExponential(base time.Duration, multiplier float64, max time.Duration, seed int64) *JitteredExponential {
	return &JitteredExponential{
		Base:       base,
		Multiplier: multiplier,
		Max:        max,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (j *JitteredExponential) NextBackOff() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()

	max := j.Max
	if max <= 0 {
		max = time.Duration(math.MaxInt64)
	}
	base := CalculateBackoffDuration(j.attempt, j.Base, j.Multiplier, max)
	j.attempt++
	return Jitter(base, j.rng.Float64())
}

func (j *JitteredExponential) Reset() {
	j.mu.Lock()
	j.attempt = 0
	j.mu.Unlock()
}

// Hinted never waits less than the most recent server hint, such as a
// Retry-After header. The hint is cleared by Reset.
type Hinted struct {
	Inner backoff.BackOff

	mu   sync.Mutex
	hint time.Duration
}

func NewHinted(inner backoff.BackOff) *Hinted {
	return &Hinted{Inner: inner}
}

func (h *Hinted) SetHint(d time.Duration) {
	h.mu.Lock()
	h.hint = d
	h.mu.Unlock()
}

func (h *Hinted) NextBackOff() time.Duration {
	next := h.Inner.NextBackOff()
	h.mu.Lock()
	hint := h.hint
	h.mu.Unlock()
	if next != backoff.Stop && hint > next {
		return hint
	}
	return next
}

func (h *Hinted) Reset() {
	h.Inner.Reset()
	h.SetHint(0)
}
