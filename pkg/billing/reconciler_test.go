package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
	"github.com/dmitrymomot/clinicbilling/pkg/memstore"
)

const validSig = "ts=1;h1=valid"

type reconcilerFixture struct {
	store   *memstore.Store
	proc    *mockProcessor
	journal *recordingJournal
	rec     *billing.Reconciler
	now     time.Time
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []billing.JournalEntry
}

func (j *recordingJournal) Record(_ context.Context, e billing.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	f := &reconcilerFixture{
		store:   memstore.New(),
		proc:    &mockProcessor{},
		journal: &recordingJournal{},
		now:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.rec = billing.NewReconciler(
		stubVerifier{valid: validSig},
		f.proc,
		f.store,
		billing.NewLedger(f.store),
		f.store,
		testCatalog(t),
		billing.WithReconcilerClock(func() time.Time { return f.now }),
		billing.WithReconcilerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		billing.WithJournal(f.journal),
	)
	return f
}

func (f *reconcilerFixture) deliver(t *testing.T, body []byte) *billing.Outcome {
	t.Helper()
	out, err := f.rec.HandleWebhook(context.Background(), body, validSig)
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func (f *reconcilerFixture) tenant(email, name string) uuid.UUID {
	id := uuid.New()
	f.store.AddUser(memstore.User{TenantID: id, Email: email, Name: name, Admin: true})
	return id
}

func TestReconciler_SignatureFailures(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	body := webhookBody(t, "evt_1", "subscription.updated", f.now, subscriptionData{ID: "sub_1", Status: "active"}.payload())

	t.Run("missing signature", func(t *testing.T) {
		_, err := f.rec.HandleWebhook(context.Background(), body, "")
		assert.ErrorIs(t, err, billing.ErrMissingSignature)
	})

	t.Run("invalid signature", func(t *testing.T) {
		_, err := f.rec.HandleWebhook(context.Background(), body, "ts=1;h1=forged")
		assert.ErrorIs(t, err, billing.ErrInvalidSignature)
	})

	assert.Empty(t, f.journal.entries)
	f.proc.AssertExpectations(t)
}

func TestReconciler_TrialStarted(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	tenantID := f.tenant("owner@clinic.test", "Dr. Owner")
	end := f.now.Add(14 * 24 * time.Hour)

	out := f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
		ID:           "sub_1",
		Status:       "trialing",
		CustomerID:   "ctm_1",
		TenantID:     tenantID,
		PriceID:      proTrialPrice,
		Fingerprint:  "card123",
		PeriodEndsAt: &end,
	}.payload()))

	assert.Equal(t, billing.OutcomeApplied, out.Kind)
	assert.Equal(t, tenantID, out.TenantID)

	rec, err := f.store.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusTrialing, rec.Status)
	assert.Equal(t, billing.TierPro, rec.Plan)
	assert.Equal(t, "sub_1", rec.PaymentSubscriptionID)
	assert.Equal(t, "ctm_1", rec.PaymentCustomerID)
	require.NotNil(t, rec.SubscriptionEndDate)
	assert.True(t, end.Equal(*rec.SubscriptionEndDate))

	fps := f.store.Fingerprints()
	require.Len(t, fps, 1)
	assert.Equal(t, "card123", fps[0].Fingerprint)
	assert.Equal(t, "sub_1", fps[0].SubscriptionID)
	assert.Equal(t, tenantID, fps[0].TenantID)

	require.Len(t, out.Intents, 1)
	intent := out.Intents[0]
	assert.Equal(t, billing.TemplateTrialStarted, intent.Template)
	assert.Equal(t, "owner@clinic.test", intent.Recipient.Email)
	assert.Equal(t, "Dr. Owner", intent.Recipient.Name)
	assert.Equal(t, "Clinic Pro", intent.PlanName)
	assert.Equal(t, "evt_1", intent.EventID)

	require.Len(t, f.journal.entries, 1)
	assert.Equal(t, "applied", f.journal.entries[0].Outcome)
	f.proc.AssertExpectations(t)
}

func TestReconciler_RepeatTrialIsCanceled(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	first := f.tenant("a@clinic.test", "A")
	second := f.tenant("b@clinic.test", "B")

	f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
		ID: "sub_1", Status: "trialing", CustomerID: "ctm_1", TenantID: first, PriceID: proTrialPrice, Fingerprint: "card123",
	}.payload()))

	f.proc.On("CancelSubscription", mock.Anything, "sub_2", billing.CancelImmediately).Return(nil).Once()

	out := f.deliver(t, webhookBody(t, "evt_2", "subscription.created", f.now, subscriptionData{
		ID: "sub_2", Status: "trialing", CustomerID: "ctm_2", TenantID: second, PriceID: plusTrialPrice, Fingerprint: "card123",
	}.payload()))

	assert.Equal(t, billing.OutcomeFraud, out.Kind)
	assert.Empty(t, out.Intents)

	_, err := f.store.Get(context.Background(), second)
	assert.ErrorIs(t, err, billing.ErrRecordNotFound)

	fps := f.store.Fingerprints()
	require.Len(t, fps, 1)
	assert.Equal(t, "sub_1", fps[0].SubscriptionID)
	f.proc.AssertExpectations(t)
}

func TestReconciler_FraudCancelFailureIsRetried(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	first := f.tenant("a@clinic.test", "A")
	second := f.tenant("b@clinic.test", "B")

	f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
		ID: "sub_1", Status: "trialing", TenantID: first, PriceID: proTrialPrice, Fingerprint: "card123",
	}.payload()))

	f.proc.On("CancelSubscription", mock.Anything, "sub_2", billing.CancelImmediately).
		Return(errors.New("paddle unavailable")).Once()

	_, err := f.rec.HandleWebhook(context.Background(), webhookBody(t, "evt_2", "subscription.created", f.now, subscriptionData{
		ID: "sub_2", Status: "trialing", TenantID: second, PriceID: proTrialPrice, Fingerprint: "card123",
	}.payload()), validSig)

	assert.ErrorIs(t, err, billing.ErrProcessor)
	_, err = f.store.Get(context.Background(), second)
	assert.ErrorIs(t, err, billing.ErrRecordNotFound)
	f.proc.AssertExpectations(t)
}

func TestReconciler_CancelOfRejectedTrialKeepsLiveRecord(t *testing.T) {
	t.Parallel()

	t.Run("same tenant", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		tenantID := f.tenant("a@clinic.test", "A")
		trialEnd := f.now.Add(14 * 24 * time.Hour)

		f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
			ID: "sub_1", Status: "trialing", TenantID: tenantID, PriceID: proTrialPrice, Fingerprint: "card123", NextBilledAt: &trialEnd,
		}.payload()))

		f.proc.On("CancelSubscription", mock.Anything, "sub_2", billing.CancelImmediately).Return(nil).Once()
		out := f.deliver(t, webhookBody(t, "evt_2", "subscription.created", f.now.Add(time.Minute), subscriptionData{
			ID: "sub_2", Status: "trialing", TenantID: tenantID, PriceID: proTrialPrice, Fingerprint: "card123",
		}.payload()))
		require.Equal(t, billing.OutcomeFraud, out.Kind)

		out = f.deliver(t, webhookBody(t, "evt_3", "subscription.canceled", f.now.Add(2*time.Minute), subscriptionData{
			ID: "sub_2", Status: "canceled", TenantID: tenantID, PriceID: proTrialPrice,
		}.payload()))
		assert.Equal(t, billing.OutcomeDropped, out.Kind)
		assert.Empty(t, out.Intents)

		rec, err := f.store.Get(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, "sub_1", rec.PaymentSubscriptionID)
		assert.Equal(t, billing.StatusTrialing, rec.Status)
		assert.Equal(t, billing.TierPro, billing.ResolveEffectivePlan(rec, f.now))
		f.proc.AssertExpectations(t)
	})

	t.Run("other tenant", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		first := f.tenant("a@clinic.test", "A")
		second := f.tenant("b@clinic.test", "B")

		f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
			ID: "sub_1", Status: "trialing", TenantID: first, PriceID: proTrialPrice, Fingerprint: "card123",
		}.payload()))
		f.proc.On("CancelSubscription", mock.Anything, "sub_2", billing.CancelImmediately).Return(nil).Once()
		f.deliver(t, webhookBody(t, "evt_2", "subscription.created", f.now, subscriptionData{
			ID: "sub_2", Status: "trialing", TenantID: second, PriceID: proTrialPrice, Fingerprint: "card123",
		}.payload()))

		out := f.deliver(t, webhookBody(t, "evt_3", "subscription.canceled", f.now.Add(time.Minute), subscriptionData{
			ID: "sub_2", Status: "canceled", TenantID: second, PriceID: proTrialPrice,
		}.payload()))
		assert.Equal(t, billing.OutcomeDropped, out.Kind)
		assert.Empty(t, out.Intents)

		_, err := f.store.Get(context.Background(), second)
		assert.ErrorIs(t, err, billing.ErrRecordNotFound)
	})
}

func TestReconciler_UpdateForForeignSubscriptionIsDropped(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	tenantID := f.tenant("owner@clinic.test", "Owner")
	f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
		ID: "sub_1", Status: "active", TenantID: tenantID, PriceID: plusPrice,
	}.payload()))

	out := f.deliver(t, webhookBody(t, "evt_2", "subscription.updated", f.now.Add(time.Minute), subscriptionData{
		ID: "sub_9", Status: "past_due", TenantID: tenantID, PriceID: proInstantPrice,
	}.payload()))
	assert.Equal(t, billing.OutcomeDropped, out.Kind)

	rec, err := f.store.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", rec.PaymentSubscriptionID)
	assert.Equal(t, billing.StatusActive, rec.Status)
	assert.Equal(t, billing.TierPlus, rec.Plan)
}

func TestReconciler_UnresolvableTrialRegistersOwnerlessFingerprint(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	f.proc.On("GetCustomer", mock.Anything, "ctm_1").
		Return(&billing.Customer{ID: "ctm_1", Email: "stranger@nowhere.test"}, nil)

	out := f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
		ID: "sub_1", Status: "trialing", CustomerID: "ctm_1", PriceID: proTrialPrice, Fingerprint: "card77",
	}.payload()))
	assert.Equal(t, billing.OutcomeDropped, out.Kind)

	fps := f.store.Fingerprints()
	require.Len(t, fps, 1)
	assert.Equal(t, uuid.Nil, fps[0].TenantID)
	assert.Equal(t, "sub_1", fps[0].SubscriptionID)
}

func TestReconciler_CreatedReplayIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	tenantID := f.tenant("owner@clinic.test", "Owner")
	body := webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
		ID: "sub_1", Status: "trialing", TenantID: tenantID, PriceID: proTrialPrice, Fingerprint: "card123",
	}.payload())

	first := f.deliver(t, body)
	second := f.deliver(t, body)

	assert.Equal(t, billing.OutcomeApplied, first.Kind)
	assert.Equal(t, billing.OutcomeApplied, second.Kind)
	assert.Len(t, f.store.Fingerprints(), 1)
	require.Len(t, second.Intents, 1)
	assert.Equal(t, first.Intents[0].Key(), second.Intents[0].Key())
	f.proc.AssertExpectations(t)
}

func TestReconciler_UpdatedReplayIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	tenantID := f.tenant("owner@clinic.test", "Owner")
	f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
		ID: "sub_1", Status: "active", TenantID: tenantID, PriceID: proInstantPrice,
	}.payload()))

	next := f.now.Add(30 * 24 * time.Hour)
	updated := webhookBody(t, "evt_2", "subscription.updated", f.now.Add(time.Minute), subscriptionData{
		ID: "sub_1", Status: "active", PriceID: plusPrice, NextBilledAt: &next,
	}.payload())

	f.deliver(t, updated)
	once, err := f.store.Get(context.Background(), tenantID)
	require.NoError(t, err)

	out := f.deliver(t, updated)
	twice, err := f.store.Get(context.Background(), tenantID)
	require.NoError(t, err)

	assert.Equal(t, billing.OutcomeApplied, out.Kind)
	assert.Empty(t, out.Intents)
	once.UpdatedAt, twice.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, once, twice)
	assert.Equal(t, billing.TierPlus, twice.Plan)
	require.NotNil(t, twice.SubscriptionEndDate)
	assert.True(t, next.Equal(*twice.SubscriptionEndDate))
}

func TestReconciler_StaleUpdateIsSkipped(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	tenantID := f.tenant("owner@clinic.test", "Owner")
	f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
		ID: "sub_1", Status: "active", TenantID: tenantID, PriceID: plusPrice,
	}.payload()))

	out := f.deliver(t, webhookBody(t, "evt_0", "subscription.updated", f.now.Add(-time.Hour), subscriptionData{
		ID: "sub_1", Status: "past_due", PriceID: proInstantPrice,
	}.payload()))

	assert.Equal(t, billing.OutcomeStale, out.Kind)
	rec, err := f.store.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, rec.Status)
	assert.Equal(t, billing.TierPlus, rec.Plan)
}

func TestReconciler_UpdateForUnlinkedSubscriptionLinksByHint(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	tenantID := f.tenant("owner@clinic.test", "Owner")

	out := f.deliver(t, webhookBody(t, "evt_1", "subscription.updated", f.now, subscriptionData{
		ID: "sub_1", Status: "active", CustomerID: "ctm_1", TenantID: tenantID, PriceID: proInstantPrice,
	}.payload()))

	assert.Equal(t, billing.OutcomeApplied, out.Kind)
	rec, err := f.store.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", rec.PaymentSubscriptionID)
	assert.Equal(t, billing.TierPro, rec.Plan)
}

func TestReconciler_Activated(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	tenantID := f.tenant("owner@clinic.test", "Owner")
	f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
		ID: "sub_1", Status: "trialing", TenantID: tenantID, PriceID: plusTrialPrice, Fingerprint: "card9",
	}.payload()))

	next := f.now.Add(30 * 24 * time.Hour)
	out := f.deliver(t, webhookBody(t, "evt_2", "subscription.activated", f.now.Add(time.Hour), subscriptionData{
		ID: "sub_1", Status: "active", NextBilledAt: &next,
	}.payload()))

	rec, err := f.store.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, rec.Status)
	assert.Equal(t, billing.TierPlus, rec.Plan)

	require.Len(t, out.Intents, 1)
	assert.Equal(t, billing.TemplateSubscriptionActive, out.Intents[0].Template)
	assert.Equal(t, "Clinic Plus", out.Intents[0].PlanName)
}

func TestReconciler_Canceled(t *testing.T) {
	t.Parallel()

	t.Run("scheduled cancellation keeps the plan until the end date", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		tenantID := f.tenant("owner@clinic.test", "Owner")
		f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
			ID: "sub_1", Status: "active", TenantID: tenantID, PriceID: proInstantPrice,
		}.payload()))

		effective := f.now.Add(10 * 24 * time.Hour)
		out := f.deliver(t, webhookBody(t, "evt_2", "subscription.canceled", f.now.Add(time.Minute), subscriptionData{
			ID: "sub_1", Status: "canceled", PriceID: proInstantPrice, ScheduledAt: &effective,
		}.payload()))

		rec, err := f.store.Get(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, rec.Status)
		assert.Equal(t, billing.TierPro, rec.Plan)
		require.NotNil(t, rec.SubscriptionEndDate)
		assert.True(t, effective.Equal(*rec.SubscriptionEndDate))
		assert.Equal(t, billing.TierPro, billing.ResolveEffectivePlan(rec, f.now))

		require.Len(t, out.Intents, 1)
		assert.Equal(t, billing.TemplateSubscriptionCancelled, out.Intents[0].Template)
		require.NotNil(t, out.Intents[0].EndDate)
		assert.True(t, effective.Equal(*out.Intents[0].EndDate))
		assert.Equal(t, "Clinic Pro", out.Intents[0].PlanName)
	})

	t.Run("cancellation without an end date expires immediately", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		tenantID := f.tenant("owner@clinic.test", "Owner")
		f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
			ID: "sub_1", Status: "active", TenantID: tenantID, PriceID: plusPrice,
		}.payload()))

		out := f.deliver(t, webhookBody(t, "evt_2", "subscription.canceled", f.now.Add(time.Minute), subscriptionData{
			ID: "sub_1", Status: "canceled", PriceID: plusPrice,
		}.payload()))

		rec, err := f.store.Get(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusExpired, rec.Status)
		assert.Equal(t, billing.TierFree, rec.Plan)
		assert.Nil(t, rec.SubscriptionEndDate)

		require.Len(t, out.Intents, 1)
		assert.Nil(t, out.Intents[0].EndDate)
		assert.Equal(t, "Clinic Plus", out.Intents[0].PlanName)
	})

	t.Run("end date in the past expires immediately", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		tenantID := f.tenant("owner@clinic.test", "Owner")
		f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
			ID: "sub_1", Status: "active", TenantID: tenantID, PriceID: plusPrice,
		}.payload()))

		ended := f.now.Add(-time.Hour)
		f.deliver(t, webhookBody(t, "evt_2", "subscription.canceled", f.now.Add(time.Minute), subscriptionData{
			ID: "sub_1", Status: "canceled", PriceID: plusPrice, PeriodEndsAt: &ended,
		}.payload()))

		rec, err := f.store.Get(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusExpired, rec.Status)
		assert.Equal(t, billing.TierFree, rec.Plan)
	})
}

func TestReconciler_TenantResolution(t *testing.T) {
	t.Parallel()

	t.Run("by customer email", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		tenantID := uuid.New()
		f.store.AddUser(memstore.User{TenantID: tenantID, Email: "doc@clinic.test", Name: "Doc"})
		f.proc.On("GetCustomer", mock.Anything, "ctm_1").
			Return(&billing.Customer{ID: "ctm_1", Email: "Doc@Clinic.test"}, nil)

		out := f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
			ID: "sub_1", Status: "active", CustomerID: "ctm_1", PriceID: proInstantPrice,
		}.payload()))

		assert.Equal(t, billing.OutcomeApplied, out.Kind)
		assert.Equal(t, tenantID, out.TenantID)
		require.Len(t, out.Intents, 1)
		assert.Equal(t, "doc@clinic.test", out.Intents[0].Recipient.Email)
		assert.Equal(t, "Doc", out.Intents[0].Recipient.Name)
	})

	t.Run("unresolvable tenant is dropped", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		f.proc.On("GetCustomer", mock.Anything, "ctm_1").
			Return(&billing.Customer{ID: "ctm_1", Email: "stranger@nowhere.test"}, nil)

		out := f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
			ID: "sub_1", Status: "active", CustomerID: "ctm_1", PriceID: proInstantPrice,
		}.payload()))

		assert.Equal(t, billing.OutcomeDropped, out.Kind)
		assert.Empty(t, out.Intents)
		ids, err := f.store.ListExpiredPaid(context.Background(), f.now, 0)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("recipient name defaults", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		tenantID := f.tenant("anon@clinic.test", "")

		out := f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
			ID: "sub_1", Status: "active", TenantID: tenantID, PriceID: "pri_legacy",
		}.payload()))

		require.Len(t, out.Intents, 1)
		assert.Equal(t, billing.DefaultRecipientName, out.Intents[0].Recipient.Name)
		assert.Equal(t, "Unknown Plan", out.Intents[0].PlanName)

		rec, err := f.store.Get(context.Background(), tenantID)
		require.NoError(t, err)
		assert.Equal(t, billing.TierUnknown, rec.Plan)
	})
}

func TestReconciler_FingerprintFallbacks(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	tenantID := f.tenant("owner@clinic.test", "Owner")
	card := &billing.Card{Type: "visa", Last4: "4242", ExpiryMonth: 4, ExpiryYear: 2030}

	f.proc.On("GetPaymentMethod", mock.Anything, "ctm_1", "paymtd_1").
		Return(nil, errors.New("timeout")).Once()
	f.proc.On("ListPaymentMethods", mock.Anything, "ctm_1").
		Return([]billing.PaymentMethod{{ID: "paymtd_0", Type: "paypal"}, {ID: "paymtd_1", Type: "card", Card: card}}, nil).Once()

	out := f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
		ID: "sub_1", Status: "trialing", CustomerID: "ctm_1", TenantID: tenantID, PriceID: proTrialPrice, PaymentMethodID: "paymtd_1",
	}.payload()))

	assert.Equal(t, billing.OutcomeApplied, out.Kind)
	fps := f.store.Fingerprints()
	require.Len(t, fps, 1)
	assert.Equal(t, billing.CardFingerprint(card), fps[0].Fingerprint)
	f.proc.AssertExpectations(t)
}

func TestReconciler_TransactionCompleted(t *testing.T) {
	t.Parallel()

	t.Run("detects a reused card missing from the creation event", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		first := f.tenant("a@clinic.test", "A")
		second := f.tenant("b@clinic.test", "B")

		f.deliver(t, webhookBody(t, "evt_1", "subscription.created", f.now, subscriptionData{
			ID: "sub_1", Status: "trialing", TenantID: first, PriceID: proTrialPrice, Fingerprint: "card123",
		}.payload()))

		f.proc.On("ListPaymentMethods", mock.Anything, "ctm_2").Return([]billing.PaymentMethod{}, nil).Once()
		f.deliver(t, webhookBody(t, "evt_2", "subscription.created", f.now, subscriptionData{
			ID: "sub_2", Status: "trialing", CustomerID: "ctm_2", TenantID: second, PriceID: proTrialPrice,
		}.payload()))

		f.proc.On("CancelSubscription", mock.Anything, "sub_2", billing.CancelImmediately).Return(nil).Once()
		out := f.deliver(t, webhookBody(t, "evt_3", "transaction.completed", f.now.Add(time.Minute), map[string]any{
			"id":              "txn_1",
			"status":          "completed",
			"customer_id":     "ctm_2",
			"subscription_id": "sub_2",
			"payments": []any{map[string]any{
				"payment_method_id": "paymtd_2",
				"method_details":    map[string]any{"card": map[string]any{"fingerprint": "card123"}},
			}},
		}))

		assert.Equal(t, billing.OutcomeFraud, out.Kind)
		assert.Equal(t, second, out.TenantID)
		f.proc.AssertExpectations(t)
	})

	t.Run("active subscription skips the fraud check", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		f.proc.On("GetSubscription", mock.Anything, "sub_9").
			Return(&billing.ProcessorSubscription{ID: "sub_9", Status: billing.StatusActive}, nil).Once()

		out := f.deliver(t, webhookBody(t, "evt_1", "transaction.completed", f.now, map[string]any{
			"id": "txn_1", "status": "completed", "subscription_id": "sub_9",
		}))

		assert.Equal(t, billing.OutcomeApplied, out.Kind)
		assert.Empty(t, f.store.Fingerprints())
		f.proc.AssertExpectations(t)
	})

	t.Run("paid upgrade switches the subscription price", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		f.proc.On("UpdateSubscriptionPrice", mock.Anything, "sub_1", plusPrice, billing.ProrationDoNotBill).Return(nil).Once()

		out := f.deliver(t, webhookBody(t, "evt_1", "transaction.completed", f.now, map[string]any{
			"id":     "txn_1",
			"status": "completed",
			"custom_data": map[string]any{
				"subscription_id": "sub_1",
				"target_price_id": plusPrice,
			},
		}))

		assert.Equal(t, billing.OutcomeApplied, out.Kind)
		f.proc.AssertExpectations(t)
	})

	t.Run("transaction without subscription is ignored", func(t *testing.T) {
		t.Parallel()

		f := newReconcilerFixture(t)
		out := f.deliver(t, webhookBody(t, "evt_1", "transaction.completed", f.now, map[string]any{
			"id": "txn_1", "status": "completed",
		}))
		assert.Equal(t, billing.OutcomeIgnored, out.Kind)
	})
}

func TestReconciler_UnrecognizedEventIsAcknowledged(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	out := f.deliver(t, webhookBody(t, "evt_1", "customer.created", f.now, map[string]any{"id": "ctm_1"}))

	assert.Equal(t, billing.OutcomeIgnored, out.Kind)
	assert.Equal(t, billing.EventUnrecognized, out.Type)
	f.proc.AssertExpectations(t)
}

func TestReconciler_MalformedPayload(t *testing.T) {
	t.Parallel()

	f := newReconcilerFixture(t)
	_, err := f.rec.HandleWebhook(context.Background(), []byte(`{"event_type":`), validSig)
	assert.ErrorIs(t, err, billing.ErrMalformedEvent)
}

func TestNewReconciler_PanicsOnMissingDeps(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	assert.Panics(t, func() {
		billing.NewReconciler(nil, &mockProcessor{}, store, billing.NewLedger(store), store, testCatalog(t))
	})
	assert.Panics(t, func() {
		billing.NewReconciler(stubVerifier{}, &mockProcessor{}, store, nil, store, testCatalog(t))
	})
}
