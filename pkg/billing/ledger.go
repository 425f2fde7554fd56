package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Verdict is the ledger's classification of a trial attempt.
type Verdict struct {
	Accepted bool
	// Existing is the record that already owns the fingerprint when the
	// attempt was rejected.
	Existing *FingerprintRecord
}

// Ledger enforces one trial per payment instrument.
// The first subscription to claim a fingerprint owns it forever.
type Ledger struct {
	store FingerprintStore
	now   func() time.Time
}

// NewLedger creates a Ledger over store.
// Panics if store is nil to fail fast during initialization.
func NewLedger(store FingerprintStore) *Ledger {
	if store == nil {
		panic("billing: FingerprintStore is required")
	}
	return &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// RegisterTrialUse records that subscriptionID started a trial with the
// instrument identified by fingerprint.
//
// A fingerprint seen for the first time, or replayed for the subscription that
// owns it, is accepted. A fingerprint owned by another subscription is rejected.
// Concurrent first uses converge on a single owner through the store's atomic claim.
func (l *Ledger) RegisterTrialUse(ctx context.Context, fingerprint string, tenantID uuid.UUID, subscriptionID string) (Verdict, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return Verdict{}, ErrEmptyFingerprint
	}

	owner, created, err := l.store.Claim(ctx, FingerprintRecord{
		Fingerprint:    fingerprint,
		TenantID:       tenantID,
		SubscriptionID: subscriptionID,
		FirstUsedAt:    l.now(),
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("claim fingerprint: %w", err)
	}

	if created || owner == nil || owner.SubscriptionID == subscriptionID {
		return Verdict{Accepted: true}, nil
	}

	return Verdict{Accepted: false, Existing: owner}, nil
}
