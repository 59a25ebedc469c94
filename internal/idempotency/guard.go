package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sandboxnotify/internal/config"
	"sandboxnotify/internal/constants"
	"sandboxnotify/internal/logger"
	"sandboxnotify/internal/ownership"
	"sandboxnotify/pkg/clock"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/metrics"
	"sandboxnotify/pkg/models"
	"sandboxnotify/pkg/tracing"
)

// Guard makes delivery at-most-once per event ID.
type Guard struct {
	repo         Repository
	keys         KeySpace
	maxAge       time.Duration
	onStoreError string
	clock        clock.Clock
	logger       logger.Logger
}

func NewGuard(repo Repository, cfg config.IdempotencyConfig, clk clock.Clock, log logger.Logger) *Guard {
	g := &Guard{
		repo: repo,
		keys: KeySpace{
			Namespace: cfg.Namespace,
			Version:   cfg.SchemaVersion,
		},
		maxAge:       cfg.MaxAge,
		onStoreError: cfg.OnStoreError,
		clock:        clk,
		logger:       log,
	}
	if g.keys.Namespace == "" {
		g.keys.Namespace = constants.DefaultNamespace
	}
	if g.keys.Version == "" {
		g.keys.Version = constants.DefaultSchemaVersion
	}
	if g.maxAge <= 0 {
		g.maxAge = constants.DefaultMaxEventAge
	}
	if g.onStoreError == "" {
		g.onStoreError = constants.StoreErrorFail
	}
	if g.clock == nil {
		g.clock = clock.Real()
	}
	return g
}

func (g *Guard) Keys() KeySpace {
	return g.keys
}

// Check decides whether event was already handled. Stale events are rejected
// before the store is read.
func (g *Guard) Check(ctx context.Context, event *models.Event) (*Decision, error) {
	ctx, span := tracing.GetTracer("idempotency").Start(ctx, "idempotency.check")
	defer span.End()

	now := g.clock.Now()
	if IsTooOld(event, now, g.maxAge) {
		metrics.IncIdempotencyStale()
		metrics.IncIdempotencyCheck("stale")
		g.logger.InfowCtx(ctx, "Skipping stale event",
			"age", now.Sub(event.SourceTimestamp).String(),
			"max_age", g.maxAge.String(),
		)
		return &Decision{IsDuplicate: true, SkipReason: ReasonTooOld}, nil
	}

	cached, err := g.load(ctx, event.ID)
	if err != nil {
		tracing.EndWithError(span, err)
		return g.handleStoreError(ctx, err)
	}

	decision, err := Evaluate(event, cached, now, g.maxAge)
	if err != nil {
		metrics.IncIdempotencyCheck("replay")
		metrics.IncSecurityEvent("idempotency", "REPLAY_DETECTED")
		sc := apperrors.SecurityContext{}
		if appErr, ok := apperrors.As(err); ok && appErr.SecurityContext != nil {
			sc = *appErr.SecurityContext
		}
		g.logger.SecuritywCtx(ctx, "Event ID replayed for a different recipient",
			"check", sc.Check,
			"expected_hash", sc.ExpectedHash,
			"actual_hash", sc.ActualHash,
			"source", sc.Source,
		)
		tracing.EndWithError(span, err)
		return nil, err
	}

	if decision.IsDuplicate {
		metrics.IncIdempotencyCheck("duplicate")
	} else {
		metrics.IncIdempotencyCheck("new")
	}
	return &decision, nil
}

func (g *Guard) load(ctx context.Context, eventID string) (*Record, error) {
	raw, err := g.repo.Get(ctx, g.keys.Key(eventID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// Unreadable records are overwritten after the next delivery.
		g.logger.WarnwCtx(ctx, "Discarding unreadable idempotency record", "error", err)
		return nil, nil
	}
	return &rec, nil
}

func (g *Guard) handleStoreError(ctx context.Context, err error) (*Decision, error) {
	appErr := apperrors.FromError(err, "redis")
	metrics.IncIdempotencyCheck("store_error")

	if g.onStoreError == constants.StoreErrorAllow {
		metrics.IncFallbackUsage("idempotency", "allow_on_error", appErr.Code)
		g.logger.WarnwCtx(ctx, "Idempotency store unavailable, processing without dedup (fallback: allow)",
			"error_code", appErr.Code,
		)
		return &Decision{}, nil
	}

	metrics.IncFallbackUsage("idempotency", "deny_on_error", appErr.Code)
	return nil, appErr
}

// MarkProcessed records a successful delivery for event. The record lives as
// long as an event may be redelivered.
func (g *Guard) MarkProcessed(ctx context.Context, event *models.Event) error {
	rec := Record{
		EventID:        event.ID,
		RecipientEmail: event.ClaimedRecipient,
		EventType:      string(event.Type),
		SchemaVersion:  g.keys.Version,
		ProcessedAt:    g.clock.Now().UTC(),
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	if err := g.repo.Set(ctx, g.keys.Key(event.ID), body, g.maxAge); err != nil {
		return apperrors.FromError(err, "redis")
	}
	return nil
}

// ReportCacheSize refreshes the cache-size gauge every interval until ctx is
// done.
func (g *Guard) ReportCacheSize(ctx context.Context, interval time.Duration) {
	timer := g.clock.NewTimer()
	defer timer.Stop()

	for ctx.Err() == nil {
		timer.Start(interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
		}

		size, err := g.repo.GetCacheSize(ctx, g.keys.Prefix())
		if err != nil {
			if ctx.Err() == nil {
				g.logger.WarnwCtx(ctx, "Failed to read idempotency cache size", "error", err)
			}
			continue
		}
		metrics.SetIdempotencyCacheSize(size)
	}
}

// LeaseWindow suppresses bursts of distinct events for the same recipient
// and lease, whatever their type. It is best effort: store failures never block
// delivery.
type LeaseWindow struct {
	repo   Repository
	ttl    time.Duration
	logger logger.Logger
}

func NewLeaseWindow(repo Repository, ttl time.Duration, log logger.Logger) *LeaseWindow {
	if ttl <= 0 {
		ttl = constants.DefaultLeaseWindow
	}
	return &LeaseWindow{repo: repo, ttl: ttl, logger: log}
}

// WindowKey is keyed on the recipient hash so addresses never reach Redis
// key space.
func WindowKey(event *models.Event) string {
	return constants.LeaseWindowKeyPrefix +
		ownership.HashEmail(event.ClaimedRecipient) + keySeparator +
		event.LeaseUUID()
}

// Seen reports whether a notification for the same window key went out
// within the TTL. Events without a lease are never suppressed.
func (w *LeaseWindow) Seen(ctx context.Context, event *models.Event) bool {
	if !event.HasLease() || event.ClaimedRecipient == "" {
		return false
	}
	seen, err := w.repo.Exists(ctx, WindowKey(event))
	if err != nil {
		w.logger.WarnwCtx(ctx, "Lease window lookup failed, not suppressing", "error", err)
		return false
	}
	if seen {
		metrics.IncLeaseWindowSkip(string(event.Type))
	}
	return seen
}

// Mark opens the window for event after a delivery.
func (w *LeaseWindow) Mark(ctx context.Context, event *models.Event) {
	if !event.HasLease() || event.ClaimedRecipient == "" {
		return
	}
	if _, err := w.repo.SetNX(ctx, WindowKey(event), event.ID, w.ttl); err != nil {
		w.logger.WarnwCtx(ctx, "Failed to mark lease window", "error", err)
	}
}
