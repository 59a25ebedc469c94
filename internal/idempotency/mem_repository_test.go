package idempotency

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memRepository struct {
	mu      sync.Mutex
	values  map[string][]byte
	ttls    map[string]time.Duration
	err     error
	getHits int
}

func newMemRepository() *memRepository {
	return &memRepository{
		values: make(map[string][]byte),
		ttls:   make(map[string]time.Duration),
	}
}

func (r *memRepository) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getHits++
	if r.err != nil {
		return nil, r.err
	}
	return r.values[key], nil
}

func (r *memRepository) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.values[key] = value
	r.ttls[key] = ttl
	return nil
}

func (r *memRepository) SetNX(_ context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.values[key]; ok {
		return false, nil
	}
	r.values[key] = []byte(value.(string))
	r.ttls[key] = ttl
	return true, nil
}

func (r *memRepository) Exists(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	_, ok := r.values[key]
	return ok, nil
}

func (r *memRepository) GetCacheSize(_ context.Context, prefix string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.values {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}
