package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"sandboxnotify/pkg/clock"
)

type FatalError interface {
	error
	IsFatal() bool
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) IsFatal() bool {
	return true
}

func (e *fatalError) Unwrap() error {
	return e.err
}

func NewFatalError(err error) FatalError {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Policy bounds a redelivery loop.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

// Backoff is the exponential schedule for p. A positive MaxElapsedTime stops
// the schedule once that much time, read from clk, has passed since Reset.
func (p Policy) Backoff(clk backoff.Clock) backoff.BackOff {
	if p.MaxElapsedTime > 0 {
		return ExponentialBackoffWithMaxElapsed(p.InitialInterval, p.MaxInterval, p.MaxElapsedTime, p.Multiplier, clk)
	}
	return ExponentialBackoff(p.InitialInterval, p.MaxInterval, p.Multiplier)
}

// Do runs op once and then up to maxRetries more times, waiting on timer for
// the delay b yields between attempts. Errors whose IsFatal reports true stop
// the loop and are returned as-is. notify, if set, sees each failed attempt
// that will be retried. attempts is the number of times op ran.
func Do(ctx context.Context, b backoff.BackOff, maxRetries int, timer clock.Timer, op func(attempt int) error, notify func(attempt int, err error, next time.Duration)) (attempts int, err error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	b.Reset()
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)

	operation := func() error {
		attempts++
		opErr := op(attempts)
		if opErr == nil {
			return nil
		}
		var fatalErr FatalError
		if errors.As(opErr, &fatalErr) && fatalErr.IsFatal() {
			return backoff.Permanent(opErr)
		}
		return opErr
	}

	var n backoff.Notify
	if notify != nil {
		n = func(err error, next time.Duration) {
			notify(attempts, err, next)
		}
	}

	err = backoff.RetryNotifyWithTimer(operation, bo, n, timer)
	return attempts, err
}
