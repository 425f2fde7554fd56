package billing

import (
	"time"

	"github.com/google/uuid"
)

// PlanTier is the internal slug of a subscription tier.
type PlanTier string

const (
	TierFree    PlanTier = "free"
	TierPro     PlanTier = "clinic_pro"
	TierPlus    PlanTier = "clinic_plus"
	TierUnknown PlanTier = "unknown" // price id not present in the catalog
)

// IsPaid reports whether the tier is one of the known paid tiers.
func (t PlanTier) IsPaid() bool {
	return t == TierPro || t == TierPlus
}

// Status is the processor-reported state of a tenant's subscription.
type Status string

const (
	StatusNone     Status = "none"
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
	// StatusExpired marks a cancellation whose paid-through date has already elapsed.
	StatusExpired Status = "expired"
)

// ParseStatus maps a processor status string to Status.
// Unknown values map to StatusNone so they never grant paid access.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusTrialing, StatusActive, StatusPastDue, StatusPaused, StatusCanceled, StatusExpired:
		return Status(s)
	case "cancelled":
		return StatusCanceled
	default:
		return StatusNone
	}
}

// Record is the billing state of one tenant (clinic).
// Plan and Status are written only by the Reconciler; everyone else reads them
// through ResolveEffectivePlan.
type Record struct {
	TenantID              uuid.UUID
	PaymentCustomerID     string
	PaymentSubscriptionID string
	Status                Status
	Plan                  PlanTier   // last recorded tier, not necessarily the effective one
	SubscriptionEndDate   *time.Time // next renewal for active, paid-through date for canceled
	LastEventAt           *time.Time // occurred_at of the newest applied subscription event
	UpdatedAt             time.Time
}

// NewRecord returns the implicit billing state of a freshly created tenant.
func NewRecord(tenantID uuid.UUID) *Record {
	return &Record{
		TenantID: tenantID,
		Status:   StatusNone,
		Plan:     TierFree,
	}
}

// Update is a snapshot of the fields one webhook handler owns.
// Empty strings and false Set flags leave the stored value untouched.
type Update struct {
	PaymentCustomerID     string
	PaymentSubscriptionID string
	Status                Status
	Plan                  PlanTier
	SetEndDate            bool
	EndDate               *time.Time
	EventAt               time.Time // zero disables the stale-event guard
}

// FingerprintRecord binds a payment instrument to the first trial it funded.
type FingerprintRecord struct {
	Fingerprint    string
	TenantID       uuid.UUID
	SubscriptionID string
	FirstUsedAt    time.Time
}

// Contact is a notification recipient.
type Contact struct {
	Email string
	Name  string
}

// Money is an amount in the smallest currency unit.
type Money struct {
	Amount   int64
	Currency string
}

// Merge returns r with upd applied: non-empty fields overwrite, EndDate is
// written only when SetEndDate is set, and LastEventAt only moves forward.
func (r Record) Merge(upd Update, now time.Time) Record {
	if upd.PaymentCustomerID != "" {
		r.PaymentCustomerID = upd.PaymentCustomerID
	}
	if upd.PaymentSubscriptionID != "" {
		r.PaymentSubscriptionID = upd.PaymentSubscriptionID
	}
	if upd.Status != "" {
		r.Status = upd.Status
	}
	if upd.Plan != "" {
		r.Plan = upd.Plan
	}
	if upd.SetEndDate {
		r.SubscriptionEndDate = nil
		if upd.EndDate != nil {
			end := *upd.EndDate
			r.SubscriptionEndDate = &end
		}
	}
	if !upd.EventAt.IsZero() && (r.LastEventAt == nil || upd.EventAt.After(*r.LastEventAt)) {
		at := upd.EventAt
		r.LastEventAt = &at
	}
	r.UpdatedAt = now
	return r
}

// IsStale reports whether upd describes an event older than the newest one
// already applied to r.
func (r Record) IsStale(upd Update) bool {
	return !upd.EventAt.IsZero() && r.LastEventAt != nil && upd.EventAt.Before(*r.LastEventAt)
}

// ConflictsWith reports whether linking upd would replace a different
// subscription that is still trialing or active.
func (r Record) ConflictsWith(upd Update) bool {
	if r.PaymentSubscriptionID == "" || upd.PaymentSubscriptionID == "" || r.PaymentSubscriptionID == upd.PaymentSubscriptionID {
		return false
	}
	return r.Status == StatusTrialing || r.Status == StatusActive
}
