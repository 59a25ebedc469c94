//go:build integration
// +build integration

package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandboxnotify/internal/config"
	"sandboxnotify/internal/logger"
	"sandboxnotify/internal/testutil"
	"sandboxnotify/pkg/clock"
	"sandboxnotify/pkg/models"
)

func TestRedisRepository_Integration(t *testing.T) {
	infra := testutil.SetupTestInfraWithOptions(t, false, false, true)
	ctx := context.Background()
	repo := NewRepository(infra.RedisClient)

	got, err := repo.Get(ctx, "notify-idem:v1:missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Set(ctx, "notify-idem:v1:evt-1", []byte(`{}`), time.Minute))
	got, err = repo.Get(ctx, "notify-idem:v1:evt-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), got)

	ok, err := repo.SetNX(ctx, "notify-lease-window:x", "evt-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.SetNX(ctx, "notify-lease-window:x", "evt-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := repo.Exists(ctx, "notify-lease-window:x")
	require.NoError(t, err)
	assert.True(t, exists)

	size, err := repo.GetCacheSize(ctx, "notify-idem:v1:")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestGuard_Integration(t *testing.T) {
	infra := testutil.SetupTestInfraWithOptions(t, false, false, true)
	ctx := context.Background()

	fake := clock.NewFake(time.Now())
	repo := NewCircuitBreakerRepository(NewRepository(infra.RedisClient), config.CircuitBreakerConfig{Enabled: true})
	guard := NewGuard(repo, config.IdempotencyConfig{}, fake, logger.NopLogger())

	event := &models.Event{
		ID:               "evt-1",
		Type:             models.LeaseApproved,
		SourceTimestamp:  fake.Now().Add(-time.Minute),
		ClaimedRecipient: "alice@agency.gov",
	}

	decision, err := guard.Check(ctx, event)
	require.NoError(t, err)
	assert.False(t, decision.IsDuplicate)

	require.NoError(t, guard.MarkProcessed(ctx, event))

	decision, err = guard.Check(ctx, event)
	require.NoError(t, err)
	assert.True(t, decision.IsDuplicate)
	assert.Equal(t, ReasonIdempotencyHit, decision.SkipReason)

	ttl, err := infra.RedisClient.TTL(ctx, guard.Keys().Key("evt-1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 6*24*time.Hour)
}
