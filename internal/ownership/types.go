package ownership

import (
	"context"
	"time"

	"sandboxnotify/pkg/models"
)

// LeaseRecord is the authoritative lease row. OwnerEmail is the address
// notifications for the lease may go to.
type LeaseRecord struct {
	UserEmail  string
	UUID       string
	OwnerEmail string
	Status     string
	AccountID  string
}

type AccountRecord struct {
	AccountID  string
	OwnerEmail string
}

// Store reads ownership records. Both lookups return (nil, nil) when the
// record does not exist and a taxonomy error when the store itself failed.
// Implementations must read from the primary.
type Store interface {
	GetLease(ctx context.Context, key models.LeaseKey) (*LeaseRecord, error)
	GetAccount(ctx context.Context, accountID string) (*AccountRecord, error)
}

// AuditData holds hashes only. Signature covers EventID, the verification
// result and Timestamp.
type AuditData struct {
	EventID          string    `json:"event_id"`
	EventType        string    `json:"event_type"`
	ClaimedHash      string    `json:"claimed_hash"`
	LeaseOwnerHash   string    `json:"lease_owner_hash,omitempty"`
	AccountOwnerHash string    `json:"account_owner_hash,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Signature        string    `json:"signature"`
}

// Result is only ever returned with Verified set; every failure is an error.
type Result struct {
	Verified     bool
	LeaseOwner   string
	AccountOwner string
	Audit        AuditData
}

// AuditSink persists audit entries for successful verifications.
type AuditSink interface {
	Record(ctx context.Context, audit AuditData) error
}

// SecretSource resolves the audit signing key.
type SecretSource interface {
	Get(ctx context.Context, name string) (string, error)
}
