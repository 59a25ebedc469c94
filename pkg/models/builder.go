package models

import "time"

type MessageEnvelopeBuilder struct {
	envelope *MessageEnvelope
}

func NewMessageEnvelopeBuilder() *MessageEnvelopeBuilder {
	return &MessageEnvelopeBuilder{
		envelope: &MessageEnvelope{
			Payload:  make(map[string]interface{}),
			Metadata: Metadata{},
		},
	}
}

func (b *MessageEnvelopeBuilder) WithID(id string) *MessageEnvelopeBuilder {
	b.envelope.ID = id
	return b
}

func (b *MessageEnvelopeBuilder) WithSource(source string) *MessageEnvelopeBuilder {
	b.envelope.Source = source
	return b
}

func (b *MessageEnvelopeBuilder) WithTimestamp(timestamp time.Time) *MessageEnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *MessageEnvelopeBuilder) WithEventType(t EventType) *MessageEnvelopeBuilder {
	b.envelope.Payload[PayloadType] = string(t)
	return b
}

func (b *MessageEnvelopeBuilder) WithUserEmail(email string) *MessageEnvelopeBuilder {
	b.envelope.Payload[PayloadUserEmail] = email
	return b
}

func (b *MessageEnvelopeBuilder) WithRecipient(email string) *MessageEnvelopeBuilder {
	b.envelope.Payload[PayloadRecipient] = email
	return b
}

func (b *MessageEnvelopeBuilder) WithLease(uuid string) *MessageEnvelopeBuilder {
	b.envelope.Payload[PayloadLeaseID] = uuid
	return b
}

func (b *MessageEnvelopeBuilder) WithAccount(accountID string) *MessageEnvelopeBuilder {
	b.envelope.Payload[PayloadAccountID] = accountID
	return b
}

func (b *MessageEnvelopeBuilder) WithDetail(key string, value interface{}) *MessageEnvelopeBuilder {
	detail, _ := b.envelope.Payload[PayloadDetail].(map[string]interface{})
	if detail == nil {
		detail = make(map[string]interface{})
		b.envelope.Payload[PayloadDetail] = detail
	}
	detail[key] = value
	return b
}

func (b *MessageEnvelopeBuilder) WithTraceID(traceID string) *MessageEnvelopeBuilder {
	b.envelope.Metadata.TraceID = traceID
	return b
}

func (b *MessageEnvelopeBuilder) Build() *MessageEnvelope {
	if b.envelope.Timestamp.IsZero() {
		b.envelope.Timestamp = time.Now()
	}
	return b.envelope
}
