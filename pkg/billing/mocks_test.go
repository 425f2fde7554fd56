package billing_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) GetSubscription(ctx context.Context, id string) (*billing.ProcessorSubscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.ProcessorSubscription), args.Error(1)
}

func (m *mockProcessor) GetCustomer(ctx context.Context, id string) (*billing.Customer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Customer), args.Error(1)
}

func (m *mockProcessor) ListPaymentMethods(ctx context.Context, customerID string) ([]billing.PaymentMethod, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.PaymentMethod), args.Error(1)
}

func (m *mockProcessor) GetPaymentMethod(ctx context.Context, customerID, id string) (*billing.PaymentMethod, error) {
	args := m.Called(ctx, customerID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PaymentMethod), args.Error(1)
}

func (m *mockProcessor) CancelSubscription(ctx context.Context, id string, when billing.CancelTiming) error {
	return m.Called(ctx, id, when).Error(0)
}

func (m *mockProcessor) UpdateSubscriptionPrice(ctx context.Context, id, priceID string, mode billing.ProrationMode) error {
	return m.Called(ctx, id, priceID, mode).Error(0)
}

func (m *mockProcessor) CreateTransaction(ctx context.Context, req billing.TransactionRequest) (*billing.Transaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Transaction), args.Error(1)
}

func (m *mockProcessor) GetPrice(ctx context.Context, id string) (*billing.Price, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Price), args.Error(1)
}

func (m *mockProcessor) CreatePortalSession(ctx context.Context, customerID string, subs ...string) (*billing.PortalLink, error) {
	args := m.Called(ctx, customerID, subs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PortalLink), args.Error(1)
}

// stubVerifier accepts a single signature value.
type stubVerifier struct {
	valid string
}

func (v stubVerifier) Verify(_ context.Context, _ []byte, signature string) error {
	if signature == "" {
		return billing.ErrMissingSignature
	}
	if signature != v.valid {
		return billing.ErrInvalidSignature
	}
	return nil
}

const (
	proTrialPrice   = "pri_pro_trial"
	proInstantPrice = "pri_pro_instant"
	plusTrialPrice  = "pri_plus_trial"
	plusPrice       = "pri_plus_instant"
)

func testCatalog(t *testing.T) *billing.Catalog {
	t.Helper()
	c, err := billing.NewCatalogFromConfig(billing.CatalogConfig{
		ProTrialPrice:    proTrialPrice,
		ProInstantPrice:  proInstantPrice,
		PlusTrialPrice:   plusTrialPrice,
		PlusInstantPrice: plusPrice,
	})
	require.NoError(t, err)
	return c
}

type subscriptionData struct {
	ID              string
	Status          string
	CustomerID      string
	TenantID        uuid.UUID
	PriceID         string
	Fingerprint     string
	PeriodEndsAt    *time.Time
	NextBilledAt    *time.Time
	ScheduledAt     *time.Time
	PaymentMethodID string
}

// webhookBody builds a processor notification body.
func webhookBody(t *testing.T, eventID, eventType string, occurredAt time.Time, data map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"event_id":    eventID,
		"event_type":  eventType,
		"occurred_at": occurredAt.Format(time.RFC3339Nano),
		"data":        data,
	})
	require.NoError(t, err)
	return raw
}

func (s subscriptionData) payload() map[string]any {
	d := map[string]any{
		"id":          s.ID,
		"status":      s.Status,
		"customer_id": s.CustomerID,
		"items":       []any{map[string]any{"price": map[string]any{"id": s.PriceID}}},
	}
	if s.TenantID != uuid.Nil {
		d["custom_data"] = map[string]any{"tenant_id": s.TenantID.String()}
	}
	if s.Fingerprint != "" {
		d["payment_method"] = map[string]any{"card": map[string]any{"fingerprint": s.Fingerprint}}
	}
	if s.PaymentMethodID != "" {
		d["payment_method_id"] = s.PaymentMethodID
	}
	if s.PeriodEndsAt != nil {
		d["current_billing_period"] = map[string]any{"ends_at": s.PeriodEndsAt.Format(time.RFC3339)}
	}
	if s.NextBilledAt != nil {
		d["next_billed_at"] = s.NextBilledAt.Format(time.RFC3339)
	}
	if s.ScheduledAt != nil {
		d["scheduled_change"] = map[string]any{"action": "cancel", "effective_at": s.ScheduledAt.Format(time.RFC3339)}
	}
	return d
}

func ptr[T any](v T) *T { return &v }
