package broker

import (
	"context"
	"time"

	"sandboxnotify/pkg/models"
)

type Producer interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error

// Action is what the consumer does with a message once the handler returned.
type Action int

const (
	ActionAck Action = iota
	ActionRedeliver
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRedeliver:
		return "redeliver"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Disposition is the consumer-facing verdict for a handler error.
type Disposition struct {
	Action        Action
	RetryAfter    time.Duration
	Page          bool
	SecurityAlert bool
	Kind          string
	Code          string
}

// DisposeFunc maps a handler error to a Disposition. A nil error must map to
// ActionAck.
type DisposeFunc func(err error) Disposition
