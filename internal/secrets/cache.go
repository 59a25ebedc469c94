package secrets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sandboxnotify/internal/config"
	"sandboxnotify/pkg/clock"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/metrics"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Cache memoises provider lookups for TTL. Invalidate drops an entry so the
// next Get refetches, which is how a rotated credential is picked up after
// the downstream rejects the old one.
type Cache struct {
	provider Provider
	ttl      time.Duration
	clock    clock.Clock

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

func NewCache(provider Provider, ttl time.Duration, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		clock:    clk,
		entries:  make(map[string]entry),
	}
}

// NewFromConfig builds the cache over the configured provider.
func NewFromConfig(cfg config.SecretsConfig) (*Cache, error) {
	switch cfg.Provider {
	case "env", "":
		return NewCache(NewEnvProvider(cfg.Prefix), cfg.TTL, clock.Real()), nil
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}
}

func (c *Cache) Get(ctx context.Context, name string) (string, error) {
	if value, ok := c.lookup(name); ok {
		metrics.IncSecretCacheRequest("hit")
		return value, nil
	}
	metrics.IncSecretCacheRequest("miss")

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		value, err := c.provider.Fetch(ctx, name)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.entries[name] = entry{value: value, expiresAt: c.clock.Now().Add(c.ttl)}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		metrics.IncSecretCacheRequest("error")
		return "", apperrors.FromError(err, serviceName)
	}
	return v.(string), nil
}

func (c *Cache) lookup(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok || (c.ttl > 0 && !c.clock.Now().Before(e.expiresAt)) {
		return "", false
	}
	return e.value, true
}

func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
}
