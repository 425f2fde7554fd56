package memstore

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

var (
	_ billing.RecordStore      = (*Store)(nil)
	_ billing.FingerprintStore = (*Store)(nil)
	_ billing.Directory        = (*Store)(nil)
	_ billing.PatientCounter   = (*Store)(nil)
	_ billing.StorageMeter     = (*Store)(nil)
)

// User is a directory entry.
type User struct {
	TenantID uuid.UUID
	Email    string
	Name     string
	Admin    bool
}

// Store implements every billing store interface behind one mutex.
type Store struct {
	mu           sync.Mutex
	records      map[uuid.UUID]billing.Record
	fingerprints map[string]billing.FingerprintRecord
	users        []User
	patients     map[uuid.UUID]int64
	storage      map[uuid.UUID]billing.StorageUsage
	now          func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records:      make(map[uuid.UUID]billing.Record),
		fingerprints: make(map[string]billing.FingerprintRecord),
		patients:     make(map[uuid.UUID]int64),
		storage:      make(map[uuid.UUID]billing.StorageUsage),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// AddUser registers a user of tenantID.
func (s *Store) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	s.users = append(s.users, u)
}

// PutRecord stores rec as is.
func (s *Store) PutRecord(rec billing.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.TenantID] = rec
}

// SetPatients sets the patient count of a tenant.
func (s *Store) SetPatients(tenantID uuid.UUID, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[tenantID] = n
}

// SetStorage sets the storage footprint of a tenant.
func (s *Store) SetStorage(tenantID uuid.UUID, u billing.StorageUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage[tenantID] = u
}

// Fingerprints returns a copy of the ledger.
func (s *Store) Fingerprints() []billing.FingerprintRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]billing.FingerprintRecord, 0, len(s.fingerprints))
	for _, fp := range s.fingerprints {
		out = append(out, fp)
	}
	return out
}

func (s *Store) Get(_ context.Context, tenantID uuid.UUID) (*billing.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tenantID]
	if !ok {
		return nil, billing.ErrRecordNotFound
	}
	return &rec, nil
}

func (s *Store) GetBySubscription(_ context.Context, subscriptionID string) (*billing.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.bySubscription(subscriptionID)
	if !ok {
		return nil, billing.ErrRecordNotFound
	}
	return &rec, nil
}

func (s *Store) Link(_ context.Context, tenantID uuid.UUID, upd billing.Update) (*billing.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.records[tenantID]
	if !exists {
		rec := *billing.NewRecord(tenantID)
		s.records[tenantID] = rec.Merge(upd, s.now())
		return nil, nil
	}
	if prev.PaymentSubscriptionID == upd.PaymentSubscriptionID && prev.IsStale(upd) {
		return nil, billing.ErrStaleEvent
	}
	if prev.ConflictsWith(upd) {
		return nil, billing.ErrSubscriptionConflict
	}
	s.records[tenantID] = prev.Merge(upd, s.now())
	return &prev, nil
}

func (s *Store) Apply(_ context.Context, subscriptionID string, upd billing.Update) (*billing.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.bySubscription(subscriptionID)
	if !ok {
		return nil, billing.ErrRecordNotFound
	}
	if prev.IsStale(upd) {
		return nil, billing.ErrStaleEvent
	}
	s.records[prev.TenantID] = prev.Merge(upd, s.now())
	return &prev, nil
}

func (s *Store) RepairPlan(_ context.Context, tenantID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[tenantID]
	if !ok || !billing.NeedsPlanRepair(&rec, now) {
		return nil
	}
	rec.Plan = billing.TierFree
	rec.UpdatedAt = s.now()
	s.records[tenantID] = rec
	return nil
}

func (s *Store) ListExpiredPaid(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, rec := range s.records {
		if billing.NeedsPlanRepair(&rec, now) {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) Claim(_ context.Context, rec billing.FingerprintRecord) (*billing.FingerprintRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.fingerprints[rec.Fingerprint]; ok {
		return &owner, false, nil
	}
	s.fingerprints[rec.Fingerprint] = rec
	return &rec, true, nil
}

func (s *Store) TenantByEmail(_ context.Context, email string) (uuid.UUID, error) {
	if u, ok := s.user(email); ok {
		return u.TenantID, nil
	}
	return uuid.Nil, billing.ErrTenantNotFound
}

func (s *Store) TenantAdmin(_ context.Context, tenantID uuid.UUID) (*billing.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.TenantID == tenantID && u.Admin {
			return &billing.Contact{Email: u.Email, Name: u.Name}, nil
		}
	}
	return nil, billing.ErrContactNotFound
}

func (s *Store) ContactByEmail(_ context.Context, email string) (*billing.Contact, error) {
	if u, ok := s.user(email); ok {
		return &billing.Contact{Email: u.Email, Name: u.Name}, nil
	}
	return nil, billing.ErrContactNotFound
}

func (s *Store) CountPatients(_ context.Context, tenantID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patients[tenantID], nil
}

func (s *Store) StorageUsed(_ context.Context, tenantID uuid.UUID) (billing.StorageUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage[tenantID], nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) user(email string) (User, bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true
		}
	}
	return User{}, false
}

func (s *Store) bySubscription(id string) (billing.Record, bool) {
	for _, rec := range s.records {
		if id != "" && rec.PaymentSubscriptionID == id {
			return rec, true
		}
	}
	return billing.Record{}, false
}

