package models

import (
	"fmt"

	apperrors "sandboxnotify/pkg/errors"
)

func invalid(field, message string) *apperrors.Error {
	return apperrors.NewPermanent("INVALID_EVENT", fmt.Sprintf("validation error for field '%s': %s", field, message),
		map[string]interface{}{"field": field})
}

// ValidateMessageEnvelope checks the minimal envelope shape the consumer needs.
func ValidateMessageEnvelope(msg *MessageEnvelope) error {
	if msg == nil {
		return invalid("envelope", "message envelope cannot be nil")
	}

	if msg.ID == "" {
		return invalid("id", "message ID is required")
	}

	if msg.Source == "" {
		return invalid("source", "message source is required")
	}

	if msg.Timestamp.IsZero() {
		return invalid("timestamp", "message timestamp is required")
	}

	if msg.Payload == nil {
		return invalid("payload", "message payload cannot be nil")
	}

	return nil
}

func (msg *MessageEnvelope) GetPayloadField(name string) (interface{}, bool) {
	if msg.Payload == nil {
		return nil, false
	}

	value, ok := msg.Payload[name]
	return value, ok
}

func (msg *MessageEnvelope) payloadString(name string) (string, error) {
	value, ok := msg.GetPayloadField(name)
	if !ok || value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", invalid("payload."+name, fmt.Sprintf("expected string, got %T", value))
	}
	return s, nil
}
