package models

import (
	"time"

	apperrors "sandboxnotify/pkg/errors"
)

type EventType string

const (
	LeaseRequested              EventType = "LeaseRequested"
	LeaseApproved               EventType = "LeaseApproved"
	LeaseDenied                 EventType = "LeaseDenied"
	LeaseTerminated             EventType = "LeaseTerminated"
	LeaseFrozen                 EventType = "LeaseFrozen"
	LeaseBudgetThresholdAlert   EventType = "LeaseBudgetThresholdAlert"
	LeaseDurationThresholdAlert EventType = "LeaseDurationThresholdAlert"
	LeaseFreezingThresholdAlert EventType = "LeaseFreezingThresholdAlert"
	LeaseBudgetExceeded         EventType = "LeaseBudgetExceeded"
	LeaseExpired                EventType = "LeaseExpired"

	AccountCleanupFailed EventType = "AccountCleanupFailed"
	AccountQuarantined   EventType = "AccountQuarantined"
	AccountDriftDetected EventType = "AccountDriftDetected"
)

var userEventTypes = map[EventType]struct{}{
	LeaseRequested:              {},
	LeaseApproved:               {},
	LeaseDenied:                 {},
	LeaseTerminated:             {},
	LeaseFrozen:                 {},
	LeaseBudgetThresholdAlert:   {},
	LeaseDurationThresholdAlert: {},
	LeaseFreezingThresholdAlert: {},
	LeaseBudgetExceeded:         {},
	LeaseExpired:                {},
}

var operationalEventTypes = map[EventType]struct{}{
	AccountCleanupFailed: {},
	AccountQuarantined:   {},
	AccountDriftDetected: {},
}

// IsKnown reports whether t belongs to the closed set of event types.
func (t EventType) IsKnown() bool {
	_, user := userEventTypes[t]
	_, ops := operationalEventTypes[t]
	return user || ops
}

// IsOperational reports whether t has no end-user recipient.
func (t EventType) IsOperational() bool {
	_, ok := operationalEventTypes[t]
	return ok
}

// LeaseKey addresses a lease record: the lease holder's email plus the lease UUID.
type LeaseKey struct {
	UserEmail string
	UUID      string
}

// Event is the immutable, decoded form of an inbound lease lifecycle event.
type Event struct {
	ID               string
	Type             EventType
	Source           string
	SourceTimestamp  time.Time
	ClaimedRecipient string
	LeaseKey         *LeaseKey
	AccountID        string
	Detail           map[string]interface{}
	TraceID          string
}

func (e *Event) HasLease() bool {
	return e.LeaseKey != nil && e.LeaseKey.UUID != ""
}

func (e *Event) LeaseUUID() string {
	if e.LeaseKey == nil {
		return ""
	}
	return e.LeaseKey.UUID
}

// EventFromEnvelope decodes a wire envelope. The claimed recipient is the
// explicit "recipient" field when present and the lease holder otherwise.
// The event time comes from "occurredAt" (RFC 3339) when present, else from
// the envelope timestamp.
func EventFromEnvelope(env *MessageEnvelope) (*Event, error) {
	if err := ValidateMessageEnvelope(env); err != nil {
		return nil, err
	}

	typ, err := env.payloadString(PayloadType)
	if err != nil {
		return nil, err
	}
	userEmail, err := env.payloadString(PayloadUserEmail)
	if err != nil {
		return nil, err
	}
	recipient, err := env.payloadString(PayloadRecipient)
	if err != nil {
		return nil, err
	}
	leaseID, err := env.payloadString(PayloadLeaseID)
	if err != nil {
		return nil, err
	}
	accountID, err := env.payloadString(PayloadAccountID)
	if err != nil {
		return nil, err
	}
	occurredAt, err := env.payloadString(PayloadOccurredAt)
	if err != nil {
		return nil, err
	}

	ts := env.Timestamp
	if occurredAt != "" {
		parsed, perr := time.Parse(time.RFC3339, occurredAt)
		if perr != nil {
			return nil, invalid("payload."+PayloadOccurredAt, "must be an RFC 3339 timestamp")
		}
		ts = parsed
	}

	if recipient == "" {
		recipient = userEmail
	}

	event := &Event{
		ID:               env.ID,
		Type:             EventType(typ),
		Source:           env.Source,
		SourceTimestamp:  ts,
		ClaimedRecipient: recipient,
		AccountID:        accountID,
		Detail:           make(map[string]interface{}),
		TraceID:          env.Metadata.TraceID,
	}
	if leaseID != "" {
		event.LeaseKey = &LeaseKey{UserEmail: userEmail, UUID: leaseID}
	}
	if detail, ok := env.Payload[PayloadDetail].(map[string]interface{}); ok {
		for k, v := range detail {
			event.Detail[k] = v
		}
	}

	return event, nil
}

// Validate checks the fields every stage relies on.
func (e *Event) Validate() error {
	switch {
	case e.ID == "":
		return invalid("id", "event ID is required")
	case !e.Type.IsKnown():
		return apperrors.NewPermanent("UNKNOWN_EVENT_TYPE", "event type is not recognised",
			map[string]interface{}{"event_type": string(e.Type)})
	case e.SourceTimestamp.IsZero():
		return invalid("timestamp", "event timestamp is required")
	case !e.Type.IsOperational() && e.ClaimedRecipient == "":
		return invalid("recipient", "user events need a recipient")
	}
	return nil
}
