//go:build integration
// +build integration

package ownership

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"sandboxnotify/internal/testutil"
	"sandboxnotify/pkg/migrations"
	"sandboxnotify/pkg/models"
)

func TestPostgresStore_Integration(t *testing.T) {
	infra := testutil.SetupTestInfraWithOptions(t, true, false, false)
	ctx := context.Background()

	_, err := infra.PostgresDB.ExecContext(ctx,
		`INSERT INTO leases (user_email, uuid, owner_email, status, account_id) VALUES ($1, $2, $3, $4, $5)`,
		"alice@agency.gov", "lease-1", "Alice@agency.gov", "Active", "123456789012")
	require.NoError(t, err)
	_, err = infra.PostgresDB.ExecContext(ctx,
		`INSERT INTO accounts (account_id, owner_email) VALUES ($1, $2)`,
		"123456789012", "alice@agency.gov")
	require.NoError(t, err)

	store := NewPostgresStore(infra.PostgresDB)

	lease, err := store.GetLease(ctx, models.LeaseKey{UserEmail: "alice@agency.gov", UUID: "lease-1"})
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "Alice@agency.gov", lease.OwnerEmail)
	assert.Equal(t, "123456789012", lease.AccountID)

	missing, err := store.GetLease(ctx, models.LeaseKey{UserEmail: "alice@agency.gov", UUID: "lease-2"})
	require.NoError(t, err)
	assert.Nil(t, missing)

	account, err := store.GetAccount(ctx, "123456789012")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "alice@agency.gov", account.OwnerEmail)
}

func TestAuditLogger_Integration(t *testing.T) {
	infra := testutil.SetupTestInfraWithOptions(t, true, false, false)
	ctx := context.Background()

	ts := time.Now().UTC().Truncate(time.Microsecond)
	audit := AuditData{
		EventID:     "evt-1",
		EventType:   "LeaseApproved",
		ClaimedHash: HashEmail("alice@agency.gov"),
		Timestamp:   ts,
		Signature:   SignAudit("s3cret", "evt-1", true, ts),
	}
	require.NoError(t, NewAuditLogger(infra.PostgresDB).Record(ctx, audit))

	var (
		stored    AuditData
		leaseHash *string
	)
	err := infra.PostgresDB.QueryRowContext(ctx,
		`SELECT event_id, claimed_hash, lease_owner_hash, verified_at, signature FROM ownership_audit_log WHERE event_id = $1`,
		"evt-1").Scan(&stored.EventID, &stored.ClaimedHash, &leaseHash, &stored.Timestamp, &stored.Signature)
	require.NoError(t, err)

	assert.Nil(t, leaseHash)
	assert.True(t, VerifyAuditSignature("s3cret", stored), "signature survives the round trip")
}

func TestMongoStore_Integration(t *testing.T) {
	infra := testutil.SetupTestInfraWithOptions(t, false, true, false)
	ctx := context.Background()

	_, err := infra.MongoDB.Collection(migrations.LeasesCollection).InsertOne(ctx, bson.M{
		"user_email":  "alice@agency.gov",
		"uuid":        "lease-1",
		"owner_email": "alice@agency.gov",
		"status":      "Active",
	})
	require.NoError(t, err)
	_, err = infra.MongoDB.Collection(migrations.AccountsCollection).InsertOne(ctx, bson.M{
		"account_id":  "123456789012",
		"owner_email": "ops@agency.gov",
	})
	require.NoError(t, err)

	store := NewMongoStore(infra.MongoDB)

	lease, err := store.GetLease(ctx, models.LeaseKey{UserEmail: "alice@agency.gov", UUID: "lease-1"})
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "alice@agency.gov", lease.OwnerEmail)
	assert.Empty(t, lease.AccountID)

	missing, err := store.GetAccount(ctx, "000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)

	account, err := store.GetAccount(ctx, "123456789012")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "ops@agency.gov", account.OwnerEmail)
}
