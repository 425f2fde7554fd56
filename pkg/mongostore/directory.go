package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

// RoleAdmin is the users.role value of a clinic administrator.
const RoleAdmin = "admin"

type fingerprintDoc struct {
	Fingerprint    string    `bson:"_id"`
	TenantID       string    `bson:"tenant_id"`
	SubscriptionID string    `bson:"subscription_id"`
	FirstUsedAt    time.Time `bson:"first_used_at"`
}

type userDoc struct {
	TenantID string `bson:"tenant_id"`
	Email    string `bson:"email"`
	Name     string `bson:"name"`
	Role     string `bson:"role"`
}

// Claim inserts the fingerprint with $setOnInsert so concurrent first uses
// agree on one owner.
func (s *Store) Claim(ctx context.Context, rec billing.FingerprintRecord) (*billing.FingerprintRecord, bool, error) {
	doc := fingerprintDoc{
		Fingerprint:    rec.Fingerprint,
		TenantID:       rec.TenantID.String(),
		SubscriptionID: rec.SubscriptionID,
		FirstUsedAt:    rec.FirstUsedAt.UTC(),
	}

	var owner fingerprintDoc
	err := s.fingerprints.FindOneAndUpdate(ctx,
		bson.M{"_id": rec.Fingerprint},
		bson.M{"$setOnInsert": bson.M{
			"tenant_id":       doc.TenantID,
			"subscription_id": doc.SubscriptionID,
			"first_used_at":   doc.FirstUsedAt,
		}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before),
	).Decode(&owner)

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return &rec, true, nil
	case mongo.IsDuplicateKeyError(err):
		// Lost an upsert race; the winner's document is there now.
		if err = s.fingerprints.FindOne(ctx, bson.M{"_id": rec.Fingerprint}).Decode(&owner); err != nil {
			return nil, false, fmt.Errorf("mongostore: read fingerprint owner: %w", err)
		}
	case err != nil:
		return nil, false, fmt.Errorf("mongostore: claim fingerprint: %w", err)
	}

	tenantID, err := uuid.Parse(owner.TenantID)
	if err != nil {
		return nil, false, fmt.Errorf("mongostore: fingerprint owner %q: %w", owner.TenantID, err)
	}
	return &billing.FingerprintRecord{
		Fingerprint:    owner.Fingerprint,
		TenantID:       tenantID,
		SubscriptionID: owner.SubscriptionID,
		FirstUsedAt:    owner.FirstUsedAt.UTC(),
	}, false, nil
}

func (s *Store) TenantByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	u, err := s.findUser(ctx, bson.M{"email": normalizeEmail(email)}, billing.ErrTenantNotFound)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(u.TenantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("mongostore: user tenant %q: %w", u.TenantID, err)
	}
	return id, nil
}

func (s *Store) TenantAdmin(ctx context.Context, tenantID uuid.UUID) (*billing.Contact, error) {
	u, err := s.findUser(ctx, bson.M{"tenant_id": tenantID.String(), "role": RoleAdmin}, billing.ErrContactNotFound)
	if err != nil {
		return nil, err
	}
	return &billing.Contact{Email: u.Email, Name: u.Name}, nil
}

func (s *Store) ContactByEmail(ctx context.Context, email string) (*billing.Contact, error) {
	u, err := s.findUser(ctx, bson.M{"email": normalizeEmail(email)}, billing.ErrContactNotFound)
	if err != nil {
		return nil, err
	}
	return &billing.Contact{Email: u.Email, Name: u.Name}, nil
}

func (s *Store) CountPatients(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	n, err := s.patients.CountDocuments(ctx, bson.M{"tenant_id": tenantID.String(), "deleted_at": nil})
	if err != nil {
		return 0, fmt.Errorf("mongostore: count patients: %w", err)
	}
	return n, nil
}

func (s *Store) StorageUsed(ctx context.Context, tenantID uuid.UUID) (billing.StorageUsage, error) {
	cur, err := s.files.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"tenant_id": tenantID.String()}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"bytes": bson.M{"$sum": "$size"},
			"files": bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return billing.StorageUsage{}, fmt.Errorf("mongostore: sum file sizes: %w", err)
	}

	var rows []struct {
		Bytes int64 `bson:"bytes"`
		Files int64 `bson:"files"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return billing.StorageUsage{}, fmt.Errorf("mongostore: sum file sizes: %w", err)
	}
	if len(rows) == 0 {
		return billing.StorageUsage{}, nil
	}
	return billing.StorageUsage{Bytes: rows[0].Bytes, Files: rows[0].Files}, nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M, notFound error) (*userDoc, error) {
	var u userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound
		}
		return nil, fmt.Errorf("mongostore: find user: %w", err)
	}
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
