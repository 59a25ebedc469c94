package ownership

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	"sandboxnotify/internal/constants"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/metrics"
	"sandboxnotify/pkg/models"
)

const (
	selectLeaseQuery = `
		SELECT owner_email, status, COALESCE(account_id, '')
		FROM leases
		WHERE user_email = $1 AND uuid = $2
	`
	selectAccountQuery = `
		SELECT owner_email
		FROM accounts
		WHERE account_id = $1
	`
)

// PostgresStore reads leases and accounts. The *sql.DB must point at the
// primary; replicas would break the consistency the verifier depends on.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetLease(ctx context.Context, key models.LeaseKey) (*LeaseRecord, error) {
	start := time.Now()
	rec := &LeaseRecord{UserEmail: key.UserEmail, UUID: key.UUID}

	err := s.db.QueryRowContext(ctx, selectLeaseQuery, key.UserEmail, key.UUID).
		Scan(&rec.OwnerEmail, &rec.Status, &rec.AccountID)
	observeQuery("get_lease", start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPostgresError(err)
	}
	return rec, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*AccountRecord, error) {
	start := time.Now()
	rec := &AccountRecord{AccountID: accountID}

	err := s.db.QueryRowContext(ctx, selectAccountQuery, accountID).Scan(&rec.OwnerEmail)
	observeQuery("get_account", start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyPostgresError(err)
	}
	return rec, nil
}

func observeQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	metrics.IncDatabaseQuery(constants.ServiceName, "postgres", operation, status)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceName, "postgres", operation, time.Since(start))
}

// classifyPostgresError maps SQLSTATE codes onto the taxonomy. Schema
// defects are Permanent, rejected credentials Critical, and load or
// connectivity problems Retriable.
func classifyPostgresError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return apperrors.FromError(err, "postgres")
	}

	code := string(pqErr.Code)
	switch {
	case code == "42P01" || code == "42703" || code == "3D000":
		return apperrors.NewPermanent("STORE_MISCONFIGURED", "ownership schema is missing",
			map[string]interface{}{"sqlstate": code}).WithCause(err)
	case strings.HasPrefix(code, "28"):
		return apperrors.NewCritical("STORE_AUTH_FAILED", "postgres rejected credentials", "postgres").WithCause(err)
	case strings.HasPrefix(code, "53"), strings.HasPrefix(code, "08"),
		code == "57014", code == "57P01", code == "40001", code == "40P01":
		return apperrors.NewRetriable("STORE_THROTTLED", "postgres is temporarily unavailable", 0).WithCause(err)
	default:
		return apperrors.NewRetriable("STORE_ERROR", "postgres query failed", 0).WithCause(err)
	}
}
