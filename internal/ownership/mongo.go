package ownership

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"sandboxnotify/internal/constants"
	apperrors "sandboxnotify/pkg/errors"
	"sandboxnotify/pkg/metrics"
	"sandboxnotify/pkg/migrations"
	"sandboxnotify/pkg/models"
)

// MongoDB server error codes the store distinguishes.
const (
	mongoCodeUnauthorized      = 13
	mongoCodeAuthFailed        = 18
	mongoCodeNamespaceNotFound = 26
	mongoCodeExceededTimeLimit = 50
)

type leaseDocument struct {
	UserEmail  string `bson:"user_email"`
	UUID       string `bson:"uuid"`
	OwnerEmail string `bson:"owner_email"`
	Status     string `bson:"status"`
	AccountID  string `bson:"account_id,omitempty"`
}

type accountDocument struct {
	AccountID  string `bson:"account_id"`
	OwnerEmail string `bson:"owner_email"`
}

// MongoStore reads with primary read preference and majority read concern.
type MongoStore struct {
	leases   *mongo.Collection
	accounts *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	opts := options.Collection().
		SetReadPreference(readpref.Primary()).
		SetReadConcern(readconcern.Majority())

	return &MongoStore{
		leases:   db.Collection(migrations.LeasesCollection, opts),
		accounts: db.Collection(migrations.AccountsCollection, opts),
	}
}

func (s *MongoStore) GetLease(ctx context.Context, key models.LeaseKey) (*LeaseRecord, error) {
	start := time.Now()
	var doc leaseDocument
	err := s.leases.FindOne(ctx, bson.M{"user_email": key.UserEmail, "uuid": key.UUID}).Decode(&doc)
	observeMongo("get_lease", start, err)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyMongoError(err)
	}
	return &LeaseRecord{
		UserEmail:  doc.UserEmail,
		UUID:       doc.UUID,
		OwnerEmail: doc.OwnerEmail,
		Status:     doc.Status,
		AccountID:  doc.AccountID,
	}, nil
}

func (s *MongoStore) GetAccount(ctx context.Context, accountID string) (*AccountRecord, error) {
	start := time.Now()
	var doc accountDocument
	err := s.accounts.FindOne(ctx, bson.M{"account_id": accountID}).Decode(&doc)
	observeMongo("get_account", start, err)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyMongoError(err)
	}
	return &AccountRecord{AccountID: doc.AccountID, OwnerEmail: doc.OwnerEmail}, nil
}

func observeMongo(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		status = "error"
	}
	metrics.IncDatabaseQuery(constants.ServiceName, "mongodb", operation, status)
	metrics.ObserveDatabaseQueryDuration(constants.ServiceName, "mongodb", operation, time.Since(start))
}

func classifyMongoError(err error) error {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return apperrors.NewRetriable("STORE_THROTTLED", "mongodb is temporarily unavailable", 0).WithCause(err)
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case mongoCodeNamespaceNotFound:
			return apperrors.NewPermanent("STORE_MISCONFIGURED", "ownership collection is missing",
				map[string]interface{}{"mongo_code": cmdErr.Code}).WithCause(err)
		case mongoCodeUnauthorized, mongoCodeAuthFailed:
			return apperrors.NewCritical("STORE_AUTH_FAILED", "mongodb rejected credentials", "mongodb").WithCause(err)
		case mongoCodeExceededTimeLimit:
			return apperrors.NewRetriable("STORE_THROTTLED", "mongodb is temporarily unavailable", 0).WithCause(err)
		}
	}
	return apperrors.NewRetriable("STORE_ERROR", "mongodb query failed", 0).WithCause(err)
}
