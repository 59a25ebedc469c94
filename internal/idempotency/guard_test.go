package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sandboxnotify/internal/config"
	"sandboxnotify/internal/constants"
	"sandboxnotify/internal/logger"
	"sandboxnotify/pkg/clock"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/metrics"
	"sandboxnotify/pkg/models"
)

const (
	recipient = "alice.smith@agency.gov"
	other     = "mallory@agency.gov"
)

var now = time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

func testConfig() config.IdempotencyConfig {
	return config.IdempotencyConfig{
		Namespace:     "notify-idem",
		SchemaVersion: "v1",
		MaxAge:        7 * 24 * time.Hour,
		OnStoreError:  constants.StoreErrorFail,
		LeaseWindow:   time.Minute,
	}
}

func newEvent(id string, age time.Duration) *models.Event {
	return &models.Event{
		ID:               id,
		Type:             models.LeaseApproved,
		Source:           "leases",
		SourceTimestamp:  now.Add(-age),
		ClaimedRecipient: recipient,
		LeaseKey:         &models.LeaseKey{UserEmail: recipient, UUID: "lease-1"},
	}
}

func newTestGuard(t *testing.T, repo Repository, cfg config.IdempotencyConfig) (*Guard, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return NewGuard(repo, cfg, clock.NewFake(now), logger.NewWithCore(core, "test")), logs
}

func TestEvaluate(t *testing.T) {
	maxAge := 7 * 24 * time.Hour
	event := newEvent("evt-1", time.Hour)

	d, err := Evaluate(event, nil, now, maxAge)
	require.NoError(t, err)
	assert.False(t, d.IsDuplicate)

	cached := &Record{EventID: "evt-1", RecipientEmail: "Alice.Smith@AGENCY.gov"}
	d, err = Evaluate(event, cached, now, maxAge)
	require.NoError(t, err)
	assert.True(t, d.IsDuplicate)
	assert.Equal(t, ReasonIdempotencyHit, d.SkipReason)
	assert.Same(t, cached, d.Cached)

	_, err = Evaluate(event, &Record{EventID: "evt-1", RecipientEmail: other}, now, maxAge)
	assert.True(t, apperrors.IsSecurity(err))
	assert.NotContains(t, err.Error(), other)
}

func TestEvaluate_TooOldIgnoresCache(t *testing.T) {
	event := newEvent("evt-1", 8*24*time.Hour)

	d, err := Evaluate(event, &Record{RecipientEmail: other}, now, 7*24*time.Hour)
	require.NoError(t, err)
	assert.True(t, d.IsDuplicate)
	assert.Equal(t, ReasonTooOld, d.SkipReason)
	assert.Nil(t, d.Cached)
}

func TestEvaluate_ExactlyMaxAgeIsNotStale(t *testing.T) {
	d, err := Evaluate(newEvent("evt-1", 7*24*time.Hour), nil, now, 7*24*time.Hour)
	require.NoError(t, err)
	assert.False(t, d.IsDuplicate)
}

func TestGuard_StaleEventNeverReadsStore(t *testing.T) {
	repo := newMemRepository()
	g, _ := newTestGuard(t, repo, testConfig())

	d, err := g.Check(context.Background(), newEvent("evt-old", 8*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ReasonTooOld, d.SkipReason)
	assert.Zero(t, repo.getHits)
}

func TestGuard_MarkThenCheckIsDuplicate(t *testing.T) {
	repo := newMemRepository()
	g, _ := newTestGuard(t, repo, testConfig())
	event := newEvent("evt-2", time.Minute)

	d, err := g.Check(context.Background(), event)
	require.NoError(t, err)
	assert.False(t, d.IsDuplicate)

	require.NoError(t, g.MarkProcessed(context.Background(), event))
	key := "notify-idem:v1:evt-2"
	assert.Equal(t, 7*24*time.Hour, repo.ttls[key])

	var rec Record
	require.NoError(t, json.Unmarshal(repo.values[key], &rec))
	assert.Equal(t, "evt-2", rec.EventID)
	assert.Equal(t, recipient, rec.RecipientEmail)
	assert.Equal(t, "LeaseApproved", rec.EventType)
	assert.Equal(t, "v1", rec.SchemaVersion)
	assert.Equal(t, now, rec.ProcessedAt)

	d, err = g.Check(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, d.IsDuplicate)
	assert.Equal(t, ReasonIdempotencyHit, d.SkipReason)
	require.NotNil(t, d.Cached)
}

func TestGuard_ReplayToOtherRecipientIsSecurity(t *testing.T) {
	repo := newMemRepository()
	g, logs := newTestGuard(t, repo, testConfig())
	first := newEvent("evt-3", time.Minute)
	require.NoError(t, g.MarkProcessed(context.Background(), first))

	replay := newEvent("evt-3", time.Minute)
	replay.ClaimedRecipient = other

	d, err := g.Check(context.Background(), replay)
	assert.Nil(t, d)
	require.True(t, apperrors.IsSecurity(err))
	appErr, _ := apperrors.As(err)
	assert.Equal(t, "REPLAY_DETECTED", appErr.Code)

	entries := logs.FilterLevelExact(zapcore.DPanicLevel).All()
	require.Len(t, entries, 1)
	for _, f := range entries[0].Context {
		assert.NotContains(t, f.String, other)
		assert.NotContains(t, f.String, recipient)
	}
}

func TestGuard_StoreErrorPolicy(t *testing.T) {
	t.Run("fail", func(t *testing.T) {
		repo := newMemRepository()
		repo.err = errors.New("dial tcp: connection refused")
		g, _ := newTestGuard(t, repo, testConfig())

		_, err := g.Check(context.Background(), newEvent("evt-4", time.Minute))
		assert.True(t, apperrors.IsRetriable(err))
	})

	t.Run("allow", func(t *testing.T) {
		repo := newMemRepository()
		repo.err = errors.New("dial tcp: connection refused")
		cfg := testConfig()
		cfg.OnStoreError = constants.StoreErrorAllow
		g, _ := newTestGuard(t, repo, cfg)

		d, err := g.Check(context.Background(), newEvent("evt-4", time.Minute))
		require.NoError(t, err)
		assert.False(t, d.IsDuplicate)
	})
}

func TestGuard_UnreadableRecordIsAMiss(t *testing.T) {
	repo := newMemRepository()
	repo.values["notify-idem:v1:evt-5"] = []byte("{garbage")
	g, logs := newTestGuard(t, repo, testConfig())

	d, err := g.Check(context.Background(), newEvent("evt-5", time.Minute))
	require.NoError(t, err)
	assert.False(t, d.IsDuplicate)
	assert.Equal(t, 1, logs.FilterMessage("Discarding unreadable idempotency record").Len())
}

func TestNewGuard_Defaults(t *testing.T) {
	g := NewGuard(newMemRepository(), config.IdempotencyConfig{}, nil, logger.NopLogger())
	assert.Equal(t, KeySpace{Namespace: constants.DefaultNamespace, Version: constants.DefaultSchemaVersion}, g.Keys())
	assert.Equal(t, constants.DefaultMaxEventAge, g.maxAge)
	assert.Equal(t, constants.StoreErrorFail, g.onStoreError)
}

func TestLeaseWindow(t *testing.T) {
	repo := newMemRepository()
	w := NewLeaseWindow(repo, time.Minute, logger.NopLogger())
	ctx := context.Background()

	first := newEvent("evt-a", time.Minute)
	second := newEvent("evt-b", time.Minute)
	otherType := newEvent("evt-c", time.Minute)
	otherType.Type = models.LeaseFrozen

	assert.False(t, w.Seen(ctx, first))
	w.Mark(ctx, first)
	assert.True(t, w.Seen(ctx, second), "distinct event id, same recipient and lease")
	assert.True(t, w.Seen(ctx, otherType), "window covers every event type for the lease")
	assert.Equal(t, WindowKey(first), WindowKey(otherType))

	otherLease := newEvent("evt-f", time.Minute)
	otherLease.LeaseKey = &models.LeaseKey{UserEmail: otherLease.ClaimedRecipient, UUID: "lease-2"}
	assert.False(t, w.Seen(ctx, otherLease))

	key := WindowKey(first)
	assert.Equal(t, time.Minute, repo.ttls[key])
	assert.NotContains(t, key, recipient)
	assert.Contains(t, key, constants.LeaseWindowKeyPrefix)
}

func TestLeaseWindow_NoLeaseNeverSuppressed(t *testing.T) {
	w := NewLeaseWindow(newMemRepository(), time.Minute, logger.NopLogger())
	event := newEvent("evt-d", time.Minute)
	event.LeaseKey = nil

	w.Mark(context.Background(), event)
	assert.False(t, w.Seen(context.Background(), event))
}

func TestLeaseWindow_StoreErrorFailsOpen(t *testing.T) {
	repo := newMemRepository()
	repo.err = errors.New("timeout")
	w := NewLeaseWindow(repo, time.Minute, logger.NopLogger())

	assert.False(t, w.Seen(context.Background(), newEvent("evt-e", time.Minute)))
	w.Mark(context.Background(), newEvent("evt-e", time.Minute))
}

func TestCircuitBreakerRepository_ClassifiesErrors(t *testing.T) {
	repo := newMemRepository()
	repo.err = errors.New("redis GET failed: i/o timeout")
	cb := NewCircuitBreakerRepository(repo, config.CircuitBreakerConfig{Enabled: true, Timeout: time.Hour})

	for i := 0; i < 5; i++ {
		_, err := cb.Get(context.Background(), "k")
		assert.True(t, apperrors.IsRetriable(err))
	}
	assert.True(t, cb.IsOpen())

	_, err := cb.Get(context.Background(), "k")
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "STORE_UNAVAILABLE", appErr.Code)
}

func TestCircuitBreakerRepository_Disabled(t *testing.T) {
	repo := newMemRepository()
	cb := NewCircuitBreakerRepository(repo, config.CircuitBreakerConfig{Enabled: false})
	assert.Equal(t, "disabled", cb.State())

	ok, err := cb.SetNX(context.Background(), "k", "v", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := cb.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, exists)

	size, err := cb.GetCacheSize(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

type cancellingRepository struct {
	*memRepository
	calls  int
	after  int
	cancel context.CancelFunc
}

func (r *cancellingRepository) GetCacheSize(ctx context.Context, prefix string) (int, error) {
	r.calls++
	if r.calls == r.after {
		r.cancel()
	}
	return r.memRepository.GetCacheSize(ctx, prefix)
}

func TestReportCacheSize_TicksOnInjectedClock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := &cancellingRepository{memRepository: newMemRepository(), after: 3, cancel: cancel}
	fake := clock.NewFake(now)
	g := NewGuard(repo, testConfig(), fake, logger.NopLogger())
	repo.values[g.keys.Prefix()+"evt-1"] = []byte("{}")
	repo.values[g.keys.Prefix()+"evt-2"] = []byte("{}")
	repo.values["unrelated"] = []byte("{}")

	g.ReportCacheSize(ctx, 30*time.Second)

	assert.Equal(t, 3, repo.calls)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second}, fake.Slept())
	assert.Equal(t, now.Add(90*time.Second), fake.Now())
	assert.Equal(t, float64(2), promtestutil.ToFloat64(metrics.IdempotencyCacheSize))
}
