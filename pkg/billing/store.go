package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordStore persists tenant billing records.
// Every mutation is a single atomic write keyed by tenant id or subscription id.
type RecordStore interface {
	// Get returns ErrRecordNotFound when the tenant has no stored record.
	Get(ctx context.Context, tenantID uuid.UUID) (*Record, error)

	// GetBySubscription looks a record up by the processor subscription id.
	GetBySubscription(ctx context.Context, subscriptionID string) (*Record, error)

	// Link writes upd onto the tenant's record, creating it if needed, and
	// returns the record as it was before the write (nil when created).
	// Used when a subscription is first attached to a tenant. Returns
	// ErrStaleEvent when the stored record already holds the same subscription
	// with a LastEventAt newer than upd.EventAt, and ErrSubscriptionConflict
	// when it holds a different subscription that is trialing or active.
	Link(ctx context.Context, tenantID uuid.UUID, upd Update) (*Record, error)

	// Apply writes upd onto the record holding subscriptionID and returns
	// the record as it was before the write. Returns ErrRecordNotFound when no
	// record holds the subscription, and ErrStaleEvent when upd.EventAt is older
	// than the stored LastEventAt.
	Apply(ctx context.Context, subscriptionID string, upd Update) (*Record, error)

	// RepairPlan sets plan=free on a tenant whose grace period ended at or
	// before now. It is a no-op when the record no longer qualifies.
	RepairPlan(ctx context.Context, tenantID uuid.UUID, now time.Time) error

	// ListExpiredPaid returns tenants with a canceled or expired subscription
	// whose end date passed but whose stored plan is still paid.
	ListExpiredPaid(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// FingerprintStore persists fingerprint records.
type FingerprintStore interface {
	// Claim atomically inserts rec unless a record for rec.Fingerprint exists.
	// It returns the record that owns the fingerprint after the call and
	// whether this call created it.
	Claim(ctx context.Context, rec FingerprintRecord) (owner *FingerprintRecord, created bool, err error)
}

// Directory resolves tenants and notification recipients from user records.
type Directory interface {
	// TenantByEmail returns ErrTenantNotFound when no user has the email.
	TenantByEmail(ctx context.Context, email string) (uuid.UUID, error)
	// TenantAdmin returns ErrContactNotFound when the tenant has no admin.
	TenantAdmin(ctx context.Context, tenantID uuid.UUID) (*Contact, error)
	// ContactByEmail returns ErrContactNotFound for unknown emails.
	ContactByEmail(ctx context.Context, email string) (*Contact, error)
}

// PatientCounter counts the tenant's patient records.
type PatientCounter interface {
	CountPatients(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// StorageMeter sums the bytes of files the tenant stores.
type StorageMeter interface {
	StorageUsed(ctx context.Context, tenantID uuid.UUID) (StorageUsage, error)
}

// StorageUsage is the tenant's cumulative file footprint.
type StorageUsage struct {
	Bytes int64
	Files int64 // -1 when the meter cannot count files
}

// PatientCounterFunc adapts a function to PatientCounter.
type PatientCounterFunc func(ctx context.Context, tenantID uuid.UUID) (int64, error)

func (f PatientCounterFunc) CountPatients(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return f(ctx, tenantID)
}

// StorageMeterFunc adapts a function to StorageMeter.
type StorageMeterFunc func(ctx context.Context, tenantID uuid.UUID) (StorageUsage, error)

func (f StorageMeterFunc) StorageUsed(ctx context.Context, tenantID uuid.UUID) (StorageUsage, error) {
	return f(ctx, tenantID)
}
