package ownership

import (
	"context"

	"sandboxnotify/pkg/circuitbreaker"
	"sandboxnotify/pkg/models"
)

// CircuitBreakerStore sheds ownership lookups while the backing store is
// failing. A missing record is a healthy answer and does not count.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, cfg circuitbreaker.Config) *CircuitBreakerStore {
	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cfg),
	}
}

func (s *CircuitBreakerStore) GetLease(ctx context.Context, key models.LeaseKey) (*LeaseRecord, error) {
	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.GetLease(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := result.(*LeaseRecord)
	return rec, nil
}

func (s *CircuitBreakerStore) GetAccount(ctx context.Context, accountID string) (*AccountRecord, error) {
	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.GetAccount(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := result.(*AccountRecord)
	return rec, nil
}

func (s *CircuitBreakerStore) Breaker() *circuitbreaker.Wrapper {
	return s.cb
}
