package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	LeasesCollection   = "leases"
	AccountsCollection = "accounts"
)

// EnsureMongoCollections creates the unique lookup indexes the ownership
// store relies on. Collections are created implicitly on first insert.
func EnsureMongoCollections(ctx context.Context, db *mongo.Database) error {
	specs := map[string][]mongo.IndexModel{
		LeasesCollection: {
			{
				Keys:    bson.D{{Key: "user_email", Value: 1}, {Key: "uuid", Value: 1}},
				Options: options.Index().SetName("idx_leases_user_email_uuid").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}},
				Options: options.Index().SetName("idx_leases_account_id").SetSparse(true),
			},
		},
		AccountsCollection: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}},
				Options: options.Index().SetName("idx_accounts_account_id").SetUnique(true),
			},
		},
	}

	for collection, indexes := range specs {
		_, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}

	return nil
}
