package idempotency

import (
	"context"
	"time"

	"sandboxnotify/internal/config"
	"sandboxnotify/pkg/circuitbreaker"
	apperrors "sandboxnotify/pkg/errors"
)

// CircuitBreakerRepository guards Redis. Every error it returns is already
// classified: an open breaker is Retriable STORE_UNAVAILABLE and other store
// failures go through FromError.
type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	if !cfg.Enabled {
		return &CircuitBreakerRepository{repo: repo}
	}
	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.NewWrapper(circuitbreaker.ConfigFromSettings("redis-idempotency", cfg)),
	}
}

func (r *CircuitBreakerRepository) run(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	var (
		result interface{}
		err    error
	)
	if r.cb == nil {
		result, err = fn()
	} else {
		result, err = r.cb.ExecuteWithContext(ctx, fn)
	}
	if err != nil {
		return nil, apperrors.FromError(err, "redis")
	}
	return result, nil
}

func (r *CircuitBreakerRepository) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := r.run(ctx, func() (interface{}, error) {
		return r.repo.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	value, _ := result.([]byte)
	return value, nil
}

func (r *CircuitBreakerRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := r.run(ctx, func() (interface{}, error) {
		return nil, r.repo.Set(ctx, key, value, ttl)
	})
	return err
}

func (r *CircuitBreakerRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	result, err := r.run(ctx, func() (interface{}, error) {
		return r.repo.SetNX(ctx, key, value, ttl)
	})
	if err != nil {
		return false, err
	}
	ok, _ := result.(bool)
	return ok, nil
}

func (r *CircuitBreakerRepository) Exists(ctx context.Context, key string) (bool, error) {
	result, err := r.run(ctx, func() (interface{}, error) {
		return r.repo.Exists(ctx, key)
	})
	if err != nil {
		return false, err
	}
	ok, _ := result.(bool)
	return ok, nil
}

func (r *CircuitBreakerRepository) GetCacheSize(ctx context.Context, prefix string) (int, error) {
	result, err := r.run(ctx, func() (interface{}, error) {
		return r.repo.GetCacheSize(ctx, prefix)
	})
	if err != nil {
		return 0, err
	}
	size, _ := result.(int)
	return size, nil
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	return r.cb != nil && r.cb.IsOpen()
}
