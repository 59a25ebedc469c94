package ownership

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// AuditLogger appends verification audit entries to ownership_audit_log.
type AuditLogger struct {
	db *sql.DB
}

func NewAuditLogger(db *sql.DB) *AuditLogger {
	return &AuditLogger{db: db}
}

func (a *AuditLogger) Record(ctx context.Context, audit AuditData) error {
	query := `
		INSERT INTO ownership_audit_log (id, event_id, event_type, claimed_hash, lease_owner_hash, account_owner_hash, verified_at, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := a.db.ExecContext(ctx, query,
		uuid.New().String(),
		audit.EventID,
		audit.EventType,
		audit.ClaimedHash,
		nullable(audit.LeaseOwnerHash),
		nullable(audit.AccountOwnerHash),
		audit.Timestamp,
		audit.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to log ownership audit entry: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
