package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

var (
	_ billing.RecordStore      = (*Store)(nil)
	_ billing.FingerprintStore = (*Store)(nil)
	_ billing.Directory        = (*Store)(nil)
	_ billing.PatientCounter   = (*Store)(nil)
	_ billing.StorageMeter     = (*Store)(nil)
)

// Store implements the billing store interfaces over one database.
type Store struct {
	db           *mongo.Database
	records      *mongo.Collection
	fingerprints *mongo.Collection
	users        *mongo.Collection
	patients     *mongo.Collection
	files        *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		db:           db,
		records:      db.Collection("billing_records"),
		fingerprints: db.Collection("fingerprints"),
		users:        db.Collection("users"),
		patients:     db.Collection("patients"),
		files:        db.Collection("files"),
	}
}

// EnsureIndexes creates the indexes the queries rely on. Safe to call on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.records: {
			{
				Keys: bson.D{{Key: "payment_subscription_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(
					bson.M{"payment_subscription_id": bson.M{"$type": "string"}},
				),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "subscription_end_date", Value: 1}}},
		},
		s.users:    {{Keys: bson.D{{Key: "email", Value: 1}}}, {Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "role", Value: 1}}}},
		s.patients: {{Keys: bson.D{{Key: "tenant_id", Value: 1}}}},
		s.files:    {{Keys: bson.D{{Key: "tenant_id", Value: 1}}}},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongostore: create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}
