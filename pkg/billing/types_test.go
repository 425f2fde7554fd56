package billing_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

func TestRecord_Merge(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 1, 0)
	last := now.Add(-time.Hour)

	rec := billing.Record{
		TenantID:              uuid.New(),
		PaymentCustomerID:     "ctm_1",
		PaymentSubscriptionID: "sub_1",
		Status:                billing.StatusTrialing,
		Plan:                  billing.TierPro,
		SubscriptionEndDate:   &end,
		LastEventAt:           &last,
	}

	t.Run("empty fields keep stored values", func(t *testing.T) {
		t.Parallel()
		got := rec.Merge(billing.Update{Status: billing.StatusActive}, now)
		assert.Equal(t, billing.StatusActive, got.Status)
		assert.Equal(t, billing.TierPro, got.Plan)
		assert.Equal(t, "ctm_1", got.PaymentCustomerID)
		assert.Equal(t, &end, got.SubscriptionEndDate)
		assert.Equal(t, now, got.UpdatedAt)
	})

	t.Run("end date cleared only when set", func(t *testing.T) {
		t.Parallel()
		got := rec.Merge(billing.Update{SetEndDate: true}, now)
		assert.Nil(t, got.SubscriptionEndDate)
		assert.NotNil(t, rec.SubscriptionEndDate, "receiver is not modified")
	})

	t.Run("last event only moves forward", func(t *testing.T) {
		t.Parallel()
		older := rec.Merge(billing.Update{EventAt: last.Add(-time.Minute)}, now)
		assert.Equal(t, last, *older.LastEventAt)

		newer := rec.Merge(billing.Update{EventAt: now}, now)
		assert.Equal(t, now, *newer.LastEventAt)
	})
}

func TestRecord_IsStale(t *testing.T) {
	t.Parallel()

	last := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := billing.Record{LastEventAt: &last}

	assert.True(t, rec.IsStale(billing.Update{EventAt: last.Add(-time.Second)}))
	assert.False(t, rec.IsStale(billing.Update{EventAt: last}), "same timestamp is a replay, not stale")
	assert.False(t, rec.IsStale(billing.Update{EventAt: last.Add(time.Second)}))
	assert.False(t, rec.IsStale(billing.Update{}), "zero time disables the guard")
	assert.False(t, billing.Record{}.IsStale(billing.Update{EventAt: last}))
}
