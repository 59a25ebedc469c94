package ownership

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"sandboxnotify/pkg/circuitbreaker"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/models"
)

func TestCircuitBreakerStore_TripsOnInfrastructureFailures(t *testing.T) {
	inner := newMemStore()
	inner.leaseErr = apperrors.NewRetriable("STORE_THROTTLED", "postgres is temporarily unavailable", 0)
	store := NewCircuitBreakerStore(inner, circuitbreaker.DefaultConfig("ownership-store-trip-test"))
	key := models.LeaseKey{UserEmail: owner, UUID: leaseUUID}

	for i := 0; i < 5; i++ {
		_, err := store.GetLease(context.Background(), key)
		requireKind(t, err, apperrors.KindRetriable)
	}
	require.True(t, store.Breaker().IsOpen())

	_, err := store.GetLease(context.Background(), key)
	appErr := requireKind(t, err, apperrors.KindRetriable)
	assert.Equal(t, "STORE_UNAVAILABLE", appErr.Code)
	assert.Equal(t, 5, inner.leaseCalls)
}

func TestCircuitBreakerStore_NotFoundDoesNotTrip(t *testing.T) {
	inner := newMemStore()
	store := NewCircuitBreakerStore(inner, circuitbreaker.DefaultConfig("ownership-store-notfound-test"))

	for i := 0; i < 10; i++ {
		rec, err := store.GetLease(context.Background(), models.LeaseKey{UserEmail: owner, UUID: leaseUUID})
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
	assert.False(t, store.Breaker().IsOpen())

	inner.accounts[accountID] = &AccountRecord{AccountID: accountID, OwnerEmail: owner}
	acct, err := store.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, owner, acct.OwnerEmail)
}

func TestClassifyMongoError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind apperrors.Kind
	}{
		{"namespace not found", mongo.CommandError{Code: mongoCodeNamespaceNotFound, Message: "ns not found"}, apperrors.KindPermanent},
		{"unauthorized", mongo.CommandError{Code: mongoCodeUnauthorized, Message: "not authorized"}, apperrors.KindCritical},
		{"time limit", mongo.CommandError{Code: mongoCodeExceededTimeLimit, Message: "exceeded"}, apperrors.KindRetriable},
		{"deadline", context.DeadlineExceeded, apperrors.KindRetriable},
		{"other", assert.AnError, apperrors.KindRetriable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireKind(t, classifyMongoError(tt.err), tt.kind)
		})
	}
}
