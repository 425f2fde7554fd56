package billing_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
	"github.com/dmitrymomot/clinicbilling/pkg/memstore"
)

func TestLedger_RegisterTrialUse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger := billing.NewLedger(memstore.New())
	tenantA, tenantB := uuid.New(), uuid.New()

	v, err := ledger.RegisterTrialUse(ctx, "card123", tenantA, "sub_a")
	require.NoError(t, err)
	assert.True(t, v.Accepted)

	v, err = ledger.RegisterTrialUse(ctx, "card123", tenantA, "sub_a")
	require.NoError(t, err)
	assert.True(t, v.Accepted, "replay for the owning subscription")

	v, err = ledger.RegisterTrialUse(ctx, "card123", tenantB, "sub_b")
	require.NoError(t, err)
	assert.False(t, v.Accepted)
	require.NotNil(t, v.Existing)
	assert.Equal(t, "sub_a", v.Existing.SubscriptionID)
	assert.Equal(t, tenantA, v.Existing.TenantID)

	v, err = ledger.RegisterTrialUse(ctx, " card123 ", tenantA, "sub_a")
	require.NoError(t, err)
	assert.True(t, v.Accepted, "surrounding whitespace is ignored")
}

func TestLedger_EmptyFingerprint(t *testing.T) {
	t.Parallel()

	_, err := billing.NewLedger(memstore.New()).RegisterTrialUse(context.Background(), "  ", uuid.New(), "sub_a")
	assert.ErrorIs(t, err, billing.ErrEmptyFingerprint)
}

func TestLedger_ConcurrentFirstUse(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	ledger := billing.NewLedger(store)
	tenantID := uuid.New()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rejected int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := ledger.RegisterTrialUse(context.Background(), "card123", tenantID, "sub_a")
			assert.NoError(t, err)
			if !v.Accepted {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, rejected)
	assert.Len(t, store.Fingerprints(), 1)
}

func TestLedger_ConcurrentDistinctSubscriptions(t *testing.T) {
	t.Parallel()

	ledger := billing.NewLedger(memstore.New())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []string
	)
	for _, sub := range []string{"sub_a", "sub_b", "sub_c", "sub_d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := ledger.RegisterTrialUse(context.Background(), "card123", uuid.New(), sub)
			assert.NoError(t, err)
			if v.Accepted {
				mu.Lock()
				accepted = append(accepted, sub)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, accepted, 1)
}

func TestNewLedger_PanicsOnNilStore(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { billing.NewLedger(nil) })
}
