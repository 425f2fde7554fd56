package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

var (
	_ billing.RecordStore      = (*Store)(nil)
	_ billing.FingerprintStore = (*Store)(nil)
	_ billing.Directory        = (*Store)(nil)
	_ billing.PatientCounter   = (*Store)(nil)
	_ billing.StorageMeter     = (*Store)(nil)
)

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const recordColumns = `tenant_id, payment_customer_id, payment_subscription_id, status, plan,
	subscription_end_date, last_event_at, updated_at`

func scanRecord(row pgx.Row) (*billing.Record, error) {
	var (
		rec    billing.Record
		subID  *string
		status string
		plan   string
	)
	err := row.Scan(&rec.TenantID, &rec.PaymentCustomerID, &subID, &status, &plan,
		&rec.SubscriptionEndDate, &rec.LastEventAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrRecordNotFound
		}
		return nil, err
	}
	if subID != nil {
		rec.PaymentSubscriptionID = *subID
	}
	rec.Status = billing.Status(status)
	rec.Plan = billing.PlanTier(plan)
	rec.SubscriptionEndDate = utc(rec.SubscriptionEndDate)
	rec.LastEventAt = utc(rec.LastEventAt)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (s *Store) Get(ctx context.Context, tenantID uuid.UUID) (*billing.Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM billing_records WHERE tenant_id = $1`, tenantID))
	return rec, wrap(err, "get record")
}

func (s *Store) GetBySubscription(ctx context.Context, subscriptionID string) (*billing.Record, error) {
	if subscriptionID == "" {
		return nil, billing.ErrRecordNotFound
	}
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM billing_records WHERE payment_subscription_id = $1`, subscriptionID))
	return rec, wrap(err, "get record by subscription")
}

func (s *Store) Link(ctx context.Context, tenantID uuid.UUID, upd billing.Update) (*billing.Record, error) {
	var prev *billing.Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO billing_records (tenant_id) VALUES ($1) ON CONFLICT (tenant_id) DO NOTHING`, tenantID)
		if err != nil {
			return err
		}
		cur, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM billing_records WHERE tenant_id = $1 FOR UPDATE`, tenantID))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			if cur.PaymentSubscriptionID == upd.PaymentSubscriptionID && cur.IsStale(upd) {
				return billing.ErrStaleEvent
			}
			if cur.ConflictsWith(upd) {
				return billing.ErrSubscriptionConflict
			}
			prev = cur
		}
		return writeRecord(ctx, tx, cur.Merge(upd, s.now()))
	})
	if err != nil {
		return nil, wrap(err, "link tenant")
	}
	return prev, nil
}

func (s *Store) Apply(ctx context.Context, subscriptionID string, upd billing.Update) (*billing.Record, error) {
	if subscriptionID == "" {
		return nil, billing.ErrRecordNotFound
	}

	var prev *billing.Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, err := scanRecord(tx.QueryRow(ctx,
			`SELECT `+recordColumns+` FROM billing_records WHERE payment_subscription_id = $1 FOR UPDATE`, subscriptionID))
		if err != nil {
			return err
		}
		if cur.IsStale(upd) {
			return billing.ErrStaleEvent
		}
		prev = cur
		return writeRecord(ctx, tx, cur.Merge(upd, s.now()))
	})
	if err != nil {
		return nil, wrap(err, "apply update")
	}
	return prev, nil
}

func writeRecord(ctx context.Context, tx pgx.Tx, rec billing.Record) error {
	var subID *string
	if rec.PaymentSubscriptionID != "" {
		subID = &rec.PaymentSubscriptionID
	}
	_, err := tx.Exec(ctx, `
		UPDATE billing_records SET
			payment_customer_id = $2,
			payment_subscription_id = $3,
			status = $4,
			plan = $5,
			subscription_end_date = $6,
			last_event_at = $7,
			updated_at = $8
		WHERE tenant_id = $1`,
		rec.TenantID, rec.PaymentCustomerID, subID, string(rec.Status), string(rec.Plan),
		rec.SubscriptionEndDate, rec.LastEventAt, rec.UpdatedAt)
	return err
}

const expiredPaidWhere = `plan NOT IN ('free', '')
	AND status IN ('canceled', 'expired')
	AND (subscription_end_date IS NULL OR subscription_end_date <= $1)`

func (s *Store) RepairPlan(ctx context.Context, tenantID uuid.UUID, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE billing_records SET plan = 'free', updated_at = $3 WHERE tenant_id = $2 AND `+expiredPaidWhere,
		now, tenantID, s.now())
	return wrap(err, "repair plan")
}

func (s *Store) ListExpiredPaid(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id FROM billing_records WHERE `+expiredPaidWhere+` ORDER BY tenant_id LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, wrap(err, "list expired")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, wrap(err, "list expired")
}

// Claim inserts the fingerprint and reads the owner in one statement.
// ON CONFLICT DO NOTHING makes concurrent first uses agree on one owner.
func (s *Store) Claim(ctx context.Context, rec billing.FingerprintRecord) (*billing.FingerprintRecord, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO fingerprints (fingerprint, tenant_id, subscription_id, first_used_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint) DO NOTHING`,
		rec.Fingerprint, rec.TenantID, rec.SubscriptionID, rec.FirstUsedAt)
	if err != nil {
		return nil, false, wrap(err, "claim fingerprint")
	}
	if tag.RowsAffected() == 1 {
		return &rec, true, nil
	}

	var owner billing.FingerprintRecord
	err = s.pool.QueryRow(ctx,
		`SELECT fingerprint, tenant_id, subscription_id, first_used_at FROM fingerprints WHERE fingerprint = $1`,
		rec.Fingerprint,
	).Scan(&owner.Fingerprint, &owner.TenantID, &owner.SubscriptionID, &owner.FirstUsedAt)
	if err != nil {
		return nil, false, wrap(err, "read fingerprint owner")
	}
	owner.FirstUsedAt = owner.FirstUsedAt.UTC()
	return &owner, false, nil
}

func wrap(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, billing.ErrRecordNotFound),
		errors.Is(err, billing.ErrStaleEvent),
		errors.Is(err, billing.ErrSubscriptionConflict),
		errors.Is(err, billing.ErrTenantNotFound),
		errors.Is(err, billing.ErrContactNotFound):
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("pgstore: %s: duplicate key %s: %w", op, pgErr.ConstraintName, err)
	}
	return fmt.Errorf("pgstore: %s: %w", op, err)
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
