package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

type recordDoc struct {
	TenantID              string     `bson:"_id"`
	PaymentCustomerID     string     `bson:"payment_customer_id,omitempty"`
	PaymentSubscriptionID string     `bson:"payment_subscription_id,omitempty"`
	Status                string     `bson:"status"`
	Plan                  string     `bson:"plan"`
	SubscriptionEndDate   *time.Time `bson:"subscription_end_date,omitempty"`
	LastEventAt           *time.Time `bson:"last_event_at,omitempty"`
	UpdatedAt             time.Time  `bson:"updated_at"`
}

func (d recordDoc) record() (*billing.Record, error) {
	id, err := uuid.Parse(d.TenantID)
	if err != nil {
		return nil, fmt.Errorf("mongostore: record %q: %w", d.TenantID, err)
	}
	return &billing.Record{
		TenantID:              id,
		PaymentCustomerID:     d.PaymentCustomerID,
		PaymentSubscriptionID: d.PaymentSubscriptionID,
		Status:                billing.Status(d.Status),
		Plan:                  billing.PlanTier(d.Plan),
		SubscriptionEndDate:   utc(d.SubscriptionEndDate),
		LastEventAt:           utc(d.LastEventAt),
		UpdatedAt:             d.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) Get(ctx context.Context, tenantID uuid.UUID) (*billing.Record, error) {
	return s.findRecord(ctx, bson.M{"_id": tenantID.String()})
}

func (s *Store) GetBySubscription(ctx context.Context, subscriptionID string) (*billing.Record, error) {
	if subscriptionID == "" {
		return nil, billing.ErrRecordNotFound
	}
	return s.findRecord(ctx, bson.M{"payment_subscription_id": subscriptionID})
}

func (s *Store) Link(ctx context.Context, tenantID uuid.UUID, upd billing.Update) (*billing.Record, error) {
	filter := bson.M{"_id": tenantID.String()}
	guarded := upd.PaymentSubscriptionID != ""
	if guarded {
		excluded := bson.A{bson.M{
			"payment_subscription_id": bson.M{"$exists": true, "$ne": upd.PaymentSubscriptionID},
			"status": bson.M{"$in": bson.A{string(billing.StatusTrialing), string(billing.StatusActive)}},
		}}
		if !upd.EventAt.IsZero() {
			excluded = append(excluded, bson.M{
				"payment_subscription_id": upd.PaymentSubscriptionID,
				"last_event_at":           bson.M{"$gt": upd.EventAt},
			})
		}
		filter["$nor"] = excluded
	}

	var prev recordDoc
	err := s.records.FindOneAndUpdate(ctx, filter, updateDoc(upd, true),
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before),
	).Decode(&prev)
	switch {
	case err == nil:
		return prev.record()
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, nil
	case guarded && mongo.IsDuplicateKeyError(err):
		// The guard excluded the tenant's document, so the upsert collided on _id.
		if cur, gerr := s.Get(ctx, tenantID); gerr == nil {
			if cur.PaymentSubscriptionID == upd.PaymentSubscriptionID && cur.IsStale(upd) {
				return nil, billing.ErrStaleEvent
			}
			if cur.ConflictsWith(upd) {
				return nil, billing.ErrSubscriptionConflict
			}
		}
		return nil, fmt.Errorf("mongostore: link tenant %s: %w", tenantID, err)
	default:
		return nil, fmt.Errorf("mongostore: link tenant %s: %w", tenantID, err)
	}
}

func (s *Store) Apply(ctx context.Context, subscriptionID string, upd billing.Update) (*billing.Record, error) {
	if subscriptionID == "" {
		return nil, billing.ErrRecordNotFound
	}

	filter := bson.M{"payment_subscription_id": subscriptionID}
	if !upd.EventAt.IsZero() {
		filter["$or"] = bson.A{
			bson.M{"last_event_at": nil},
			bson.M{"last_event_at": bson.M{"$lte": upd.EventAt}},
		}
	}

	var prev recordDoc
	err := s.records.FindOneAndUpdate(ctx, filter, updateDoc(upd, false),
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&prev)
	if err == nil {
		return prev.record()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("mongostore: apply to subscription %s: %w", subscriptionID, err)
	}

	n, cerr := s.records.CountDocuments(ctx, bson.M{"payment_subscription_id": subscriptionID})
	if cerr != nil {
		return nil, fmt.Errorf("mongostore: apply to subscription %s: %w", subscriptionID, cerr)
	}
	if n > 0 {
		return nil, billing.ErrStaleEvent
	}
	return nil, billing.ErrRecordNotFound
}

func (s *Store) RepairPlan(ctx context.Context, tenantID uuid.UUID, now time.Time) error {
	filter := expiredPaidFilter(now)
	filter["_id"] = tenantID.String()

	_, err := s.records.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"plan":       string(billing.TierFree),
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("mongostore: repair plan of %s: %w", tenantID, err)
	}
	return nil
}

func (s *Store) ListExpiredPaid(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.records.Find(ctx, expiredPaidFilter(now), opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list expired: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: list expired: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(docs))
	for _, d := range docs {
		id, err := uuid.Parse(d.ID)
		if err != nil {
			return nil, fmt.Errorf("mongostore: record %q: %w", d.ID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) findRecord(ctx context.Context, filter bson.M) (*billing.Record, error) {
	var doc recordDoc
	if err := s.records.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, billing.ErrRecordNotFound
		}
		return nil, fmt.Errorf("mongostore: find record: %w", err)
	}
	return doc.record()
}

// updateDoc translates an Update into update operators. On insert the
// untouched fields get the defaults of a fresh tenant.
func updateDoc(upd billing.Update, upsert bool) bson.M {
	set := bson.M{"updated_at": time.Now().UTC()}
	unset := bson.M{}

	if upd.PaymentCustomerID != "" {
		set["payment_customer_id"] = upd.PaymentCustomerID
	}
	if upd.PaymentSubscriptionID != "" {
		set["payment_subscription_id"] = upd.PaymentSubscriptionID
	}
	if upd.Status != "" {
		set["status"] = string(upd.Status)
	}
	if upd.Plan != "" {
		set["plan"] = string(upd.Plan)
	}
	if upd.SetEndDate {
		if upd.EndDate != nil {
			set["subscription_end_date"] = upd.EndDate.UTC()
		} else {
			unset["subscription_end_date"] = ""
		}
	}

	doc := bson.M{"$set": set}
	if len(unset) > 0 {
		doc["$unset"] = unset
	}
	if !upd.EventAt.IsZero() {
		doc["$max"] = bson.M{"last_event_at": upd.EventAt.UTC()}
	}
	if upsert {
		onInsert := bson.M{}
		if _, ok := set["status"]; !ok {
			onInsert["status"] = string(billing.StatusNone)
		}
		if _, ok := set["plan"]; !ok {
			onInsert["plan"] = string(billing.TierFree)
		}
		if len(onInsert) > 0 {
			doc["$setOnInsert"] = onInsert
		}
	}
	return doc
}

// expiredPaidFilter matches the records billing.NeedsPlanRepair accepts.
func expiredPaidFilter(now time.Time) bson.M {
	return bson.M{
		"plan":   bson.M{"$nin": bson.A{string(billing.TierFree), ""}},
		"status": bson.M{"$in": bson.A{string(billing.StatusCanceled), string(billing.StatusExpired)}},
		"$or": bson.A{
			bson.M{"subscription_end_date": nil},
			bson.M{"subscription_end_date": bson.M{"$lte": now}},
		},
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
