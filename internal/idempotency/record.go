package idempotency

import (
	"strings"
	"time"

	"sandboxnotify/internal/ownership"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/models"
)

// Skip reasons reported with a duplicate decision.
const (
	ReasonTooOld         = "too_old"
	ReasonIdempotencyHit = "idempotency_hit"
	ReasonLeaseWindow    = "lease_window"
)

// Record is written once per successfully processed event and never updated.
type Record struct {
	EventID        string    `json:"event_id"`
	RecipientEmail string    `json:"recipient_email"`
	EventType      string    `json:"event_type"`
	SchemaVersion  string    `json:"schema_version"`
	ProcessedAt    time.Time `json:"processed_at"`
}

type Decision struct {
	IsDuplicate bool
	SkipReason  string
	Cached      *Record
}

// IsTooOld reports whether event is older than maxAge at now.
func IsTooOld(event *models.Event, now time.Time, maxAge time.Duration) bool {
	return now.Sub(event.SourceTimestamp) > maxAge
}

// Evaluate is the idempotency policy. Age is judged first and without the
// cache; a cached record for the same event ID but another recipient is a
// replay and yields a Security error.
func Evaluate(event *models.Event, cached *Record, now time.Time, maxAge time.Duration) (Decision, error) {
	if IsTooOld(event, now, maxAge) {
		return Decision{IsDuplicate: true, SkipReason: ReasonTooOld}, nil
	}

	if cached == nil {
		return Decision{}, nil
	}

	if !strings.EqualFold(cached.RecipientEmail, event.ClaimedRecipient) {
		return Decision{}, apperrors.NewSecurity("REPLAY_DETECTED",
			"event id was already delivered to a different recipient",
			apperrors.SecurityContext{
				EventID:      event.ID,
				Check:        "idempotency_recipient",
				ExpectedHash: ownership.HashEmail(cached.RecipientEmail),
				ActualHash:   ownership.HashEmail(event.ClaimedRecipient),
				Source:       event.Source,
			})
	}

	return Decision{IsDuplicate: true, SkipReason: ReasonIdempotencyHit, Cached: cached}, nil
}
