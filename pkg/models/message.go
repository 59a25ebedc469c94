package models

import "time"

type MessageEnvelope struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`  // Lease event data
	Metadata  Metadata               `json:"metadata"` // Pipeline metadata (trace_id, dead letter info)
}

type Metadata struct {
	TraceID    string          `json:"trace_id,omitempty"`
	DeadLetter *DeadLetterInfo `json:"dead_letter,omitempty"`
}

// DeadLetterInfo is attached to an envelope when it is routed to the DLQ.
// Reason is the error code only; error messages never leave the process.
type DeadLetterInfo struct {
	Kind        string    `json:"kind"`
	Code        string    `json:"code"`
	SourceTopic string    `json:"source_topic"`
	Attempts    int       `json:"attempts"`
	FailedAt    time.Time `json:"failed_at"`
	Page        bool      `json:"page,omitempty"`
	Security    bool      `json:"security,omitempty"`
}

// Payload keys understood by EventFromEnvelope.
const (
	PayloadType       = "type"
	PayloadUserEmail  = "userEmail"
	PayloadRecipient  = "recipient"
	PayloadLeaseID    = "leaseId"
	PayloadAccountID  = "accountId"
	PayloadDetail     = "detail"
	PayloadOccurredAt = "occurredAt"
)
