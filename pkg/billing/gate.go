package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

// Resource is a quota-limited resource kind.
type Resource string

const (
	ResourcePatients Resource = "patients"
	ResourceFiles    Resource = "files"
)

// Reason explains a denial.
type Reason string

const (
	ReasonPatientLimit       Reason = "patient_limit_reached"
	ReasonUploadsNotAllowed  Reason = "uploads_not_allowed"
	ReasonFileTooLarge       Reason = "file_too_large"
	ReasonStorageExceeded    Reason = "storage_limit_exceeded"
	ReasonFeatureUnavailable Reason = "feature_unavailable"
)

// Decision is the gate's answer. A denial is a normal result, not an error.
type Decision struct {
	Allowed bool     `json:"allowed"`
	Reason  Reason   `json:"reason,omitempty"`
	Message string   `json:"message,omitempty"`
	Plan    PlanTier `json:"plan"`
	Limits  Limits   `json:"limits"`
	Usage   Usage    `json:"usage"`
}

// Usage is what the tenant consumed when the decision was made.
type Usage struct {
	Patients       int64 `json:"patients"`
	StorageBytes   int64 `json:"storage_bytes"`
	RequestedBytes int64 `json:"requested_bytes,omitempty"`
}

// UsageSummary is the tenant's plan and consumption overview.
type UsageSummary struct {
	Plan                  PlanTier   `json:"plan"`
	PlanName              string     `json:"plan_name"`
	Status                Status     `json:"status"`
	SubscriptionEndDate   *time.Time `json:"subscription_end_date,omitempty"`
	Limits                Limits     `json:"limits"`
	StorageUsedBytes      int64      `json:"storage_used_bytes"`
	StorageAvailableBytes int64      `json:"storage_available_bytes"` // -1 when unlimited
	UsedPercentage        float64    `json:"used_percentage"`
	Files                 int64      `json:"files"`    // -1 when unknown
	Patients              int64      `json:"patients"` // -1 when unknown
}

// Gate authorizes resource mutations against the tenant's effective plan.
// Checks are advisory and hold no lock: concurrent uploads may both pass.
type Gate struct {
	records  RecordStore
	catalog  *Catalog
	patients PatientCounter
	storage  StorageMeter
	observer Observer
	log      *slog.Logger
	now      func() time.Time
	repair   bool
}

// NewGate creates a Gate.
// Panics if records or catalog is nil to fail fast during initialization.
func NewGate(records RecordStore, catalog *Catalog, opts ...GateOption) *Gate {
	if records == nil {
		panic("billing: RecordStore is required")
	}
	if catalog == nil {
		panic("billing: Catalog is required")
	}

	g := &Gate{
		records:  records,
		catalog:  catalog,
		observer: nopObserver{},
		log:      slog.Default(),
		now:      utcNow,
		repair:   true,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(logger.Component("billing.gate"))
	return g
}

// EffectivePlan returns the tier the tenant is entitled to now along with its
// stored record. Tenants without a record resolve to free.
func (g *Gate) EffectivePlan(ctx context.Context, tenantID uuid.UUID) (PlanTier, *Record, error) {
	rec, err := g.records.Get(ctx, tenantID)
	if errors.Is(err, ErrRecordNotFound) {
		rec = NewRecord(tenantID)
	} else if err != nil {
		return "", nil, fmt.Errorf("load billing record: %w", err)
	}

	now := g.now()
	plan := ResolveEffectivePlan(rec, now)

	if g.repair && NeedsPlanRepair(rec, now) {
		if err := g.records.RepairPlan(ctx, tenantID, now); err != nil {
			g.log.WarnContext(ctx, "plan repair failed", logger.TenantID(tenantID), logger.Error(err))
		}
	}

	return plan, rec, nil
}

// CheckQuota decides whether the tenant may add delta units of res.
// For patients delta is the number of new records (at least one); for files it
// is the size of the upload in bytes.
func (g *Gate) CheckQuota(ctx context.Context, tenantID uuid.UUID, res Resource, delta int64) (Decision, error) {
	plan, _, err := g.EffectivePlan(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Allowed: true, Plan: plan, Limits: g.catalog.Limits(plan)}

	switch res {
	case ResourcePatients:
		err = g.checkPatients(ctx, tenantID, &d, max(delta, 1))
	case ResourceFiles:
		err = g.checkUpload(ctx, tenantID, &d, max(delta, 0))
	default:
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownResource, res)
	}
	if err != nil {
		return Decision{}, err
	}

	if !d.Allowed {
		g.observer.QuotaDenied(string(d.Reason))
		g.log.InfoContext(ctx, "quota denied",
			logger.TenantID(tenantID),
			slog.String("reason", string(d.Reason)),
			slog.String("plan", string(plan)),
		)
	}
	return d, nil
}

func (g *Gate) checkPatients(ctx context.Context, tenantID uuid.UUID, d *Decision, delta int64) error {
	limit := d.Limits.MaxPatients
	if limit == Unlimited {
		return nil
	}
	if g.patients == nil {
		return errors.New("billing: patient counter is not configured")
	}

	count, err := g.patients.CountPatients(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("count patients: %w", err)
	}
	d.Usage.Patients = count

	if count+delta > limit {
		d.deny(ReasonPatientLimit, printer.Sprintf(
			"The %s plan allows up to %d patients. Upgrade to add more.",
			g.catalog.DisplayName(d.Plan), limit))
	}
	return nil
}

func (g *Gate) checkUpload(ctx context.Context, tenantID uuid.UUID, d *Decision, size int64) error {
	d.Usage.RequestedBytes = size
	l := d.Limits

	if !l.CanUploadFiles {
		d.deny(ReasonUploadsNotAllowed, printer.Sprintf(
			"File uploads are not available on the %s plan.", g.catalog.DisplayName(d.Plan)))
		return nil
	}
	if l.MaxFileSizeBytes != Unlimited && size > l.MaxFileSizeBytes {
		d.deny(ReasonFileTooLarge, printer.Sprintf(
			"File exceeds the %s per-file limit of the %s plan.",
			FormatBytes(l.MaxFileSizeBytes), g.catalog.DisplayName(d.Plan)))
		return nil
	}
	if l.MaxStorageBytes == Unlimited {
		return nil
	}
	if g.storage == nil {
		return errors.New("billing: storage meter is not configured")
	}

	used, err := g.storage.StorageUsed(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("measure storage: %w", err)
	}
	d.Usage.StorageBytes = used.Bytes

	if used.Bytes+size > l.MaxStorageBytes {
		d.deny(ReasonStorageExceeded, printer.Sprintf(
			"Storage limit reached: %s of %s used.",
			FormatBytes(used.Bytes), FormatBytes(l.MaxStorageBytes)))
	}
	return nil
}

// CheckFeature decides whether the tenant's effective plan grants f.
func (g *Gate) CheckFeature(ctx context.Context, tenantID uuid.UUID, f Feature) (Decision, error) {
	plan, _, err := g.EffectivePlan(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Allowed: true, Plan: plan, Limits: g.catalog.Limits(plan)}

	if !d.Limits.HasFeature(f) {
		d.deny(ReasonFeatureUnavailable, printer.Sprintf(
			"The %s feature is not included in the %s plan.", f, g.catalog.DisplayName(plan)))
		g.observer.QuotaDenied(string(d.Reason))
	}
	return d, nil
}

// UsageSummary reports the tenant's plan, limits and consumption.
func (g *Gate) UsageSummary(ctx context.Context, tenantID uuid.UUID) (*UsageSummary, error) {
	plan, rec, err := g.EffectivePlan(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	limits := g.catalog.Limits(plan)

	sum := &UsageSummary{
		Plan:                  plan,
		PlanName:              g.catalog.DisplayName(plan),
		Status:                rec.Status,
		SubscriptionEndDate:   rec.SubscriptionEndDate,
		Limits:                limits,
		StorageAvailableBytes: Unlimited,
		Files:                 -1,
		Patients:              -1,
	}

	if g.storage != nil {
		used, err := g.storage.StorageUsed(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("measure storage: %w", err)
		}
		sum.StorageUsedBytes = used.Bytes
		sum.Files = used.Files
	}
	if limits.MaxStorageBytes != Unlimited {
		sum.StorageAvailableBytes = max(limits.MaxStorageBytes-sum.StorageUsedBytes, 0)
		if limits.MaxStorageBytes > 0 {
			pct := float64(sum.StorageUsedBytes) / float64(limits.MaxStorageBytes) * 100
			sum.UsedPercentage = math.Round(pct*100) / 100
		}
	}

	if g.patients != nil {
		n, err := g.patients.CountPatients(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("count patients: %w", err)
		}
		sum.Patients = n
	}

	return sum, nil
}

func (d *Decision) deny(reason Reason, msg string) {
	d.Allowed = false
	d.Reason = reason
	d.Message = msg
}
