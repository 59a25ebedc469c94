package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/config"
	apperrors "sandboxnotify/pkg/errors"
)

func TestWrapper_OpenBreakerIsRetriable(t *testing.T) {
	cfg := DefaultConfig("test-store-open")
	cfg.Timeout = time.Hour
	w := NewWrapper(cfg)

	for i := 0; i < 5; i++ {
		_ = w.Run(context.Background(), func() error {
			return apperrors.NewRetriable("TIMEOUT", "slow", 0)
		})
	}
	require.Equal(t, gobreaker.StateOpen, w.State())

	err := w.Run(context.Background(), func() error { return nil })
	require.Error(t, err)
	assert.True(t, apperrors.IsRetriable(err))
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
}

func TestWrapper_DomainAnswersDoNotTrip(t *testing.T) {
	w := NewWrapper(DefaultConfig("test-store-domain"))

	for i := 0; i < 10; i++ {
		err := w.Run(context.Background(), func() error {
			return apperrors.NewPermanent("LEASE_NOT_FOUND", "lease not found", nil)
		})
		assert.True(t, apperrors.IsPermanent(err))
	}
	assert.Equal(t, gobreaker.StateClosed, w.State())
}

func TestWrapper_CancelledContext(t *testing.T) {
	w := NewWrapper(DefaultConfig("test-store-cancel"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := w.Run(ctx, func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, apperrors.IsRetriable(err))
}

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings("redis-idempotency", config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  7,
		Timeout:      10 * time.Second,
		FailureRatio: 0.8,
		MinRequests:  10,
	})

	assert.Equal(t, "redis-idempotency", cfg.Name)
	assert.Equal(t, uint32(7), cfg.MaxRequests)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.False(t, cfg.ReadyToTrip(gobreaker.Counts{Requests: 9, TotalFailures: 9}))
	assert.False(t, cfg.ReadyToTrip(gobreaker.Counts{Requests: 10, TotalFailures: 7}))
	assert.True(t, cfg.ReadyToTrip(gobreaker.Counts{Requests: 10, TotalFailures: 8}))
}
