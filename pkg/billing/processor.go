package billing

import (
	"context"
	"time"
)

// Processor is the outbound surface of the payment processor used by the
// Reconciler and the Orchestrator. Implementations must be safe for
// concurrent use.
type Processor interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*ProcessorSubscription, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*PaymentMethod, error)
	CancelSubscription(ctx context.Context, subscriptionID string, when CancelTiming) error
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string, mode ProrationMode) error
	CreateTransaction(ctx context.Context, req TransactionRequest) (*Transaction, error)
	GetPrice(ctx context.Context, priceID string) (*Price, error)
	CreatePortalSession(ctx context.Context, customerID string, subscriptionIDs ...string) (*PortalLink, error)
}

// WebhookVerifier checks the processor's signature over the exact raw body.
// It returns ErrMissingSignature or ErrInvalidSignature on failure.
type WebhookVerifier interface {
	Verify(ctx context.Context, payload []byte, signature string) error
}

// CancelTiming selects when a cancellation takes effect.
type CancelTiming string

const (
	CancelImmediately       CancelTiming = "immediately"
	CancelNextBillingPeriod CancelTiming = "next_billing_period"
)

// ProrationMode selects how a price change is billed.
type ProrationMode string

const (
	ProrationNextBillingPeriod   ProrationMode = "full_next_billing_period"
	ProrationProratedImmediately ProrationMode = "prorated_immediately"
	ProrationProratedNextBilling ProrationMode = "prorated_next_billing_period"
	ProrationDoNotBill           ProrationMode = "do_not_bill"
)

// ProcessorSubscription is the processor's current view of a subscription.
type ProcessorSubscription struct {
	ID              string
	Status          Status
	CustomerID      string
	PriceID         string
	TenantHint      string // tenant id carried in custom data, if any
	PaymentMethodID string
	PeriodEndsAt    *time.Time
	NextBilledAt    *time.Time
	ScheduledAt     *time.Time // effective date of a scheduled change
}

// Customer is a processor customer.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// Card holds the card attributes the processor exposes.
type Card struct {
	Fingerprint string
	Type        string
	Last4       string
	ExpiryMonth int
	ExpiryYear  int
}

// PaymentMethod is a stored payment instrument.
type PaymentMethod struct {
	ID   string
	Type string
	Card *Card
}

// Price is a catalog price.
type Price struct {
	ID        string
	ProductID string
	Name      string
	UnitPrice Money
}

// TransactionRequest asks the processor to collect Amount now for an upgrade.
type TransactionRequest struct {
	CustomerID     string
	SubscriptionID string
	TenantID       string
	ProductID      string
	Description    string
	Amount         Money
	TargetPriceID  string
}

// Transaction is the processor's answer to CreateTransaction.
type Transaction struct {
	ID          string
	Status      string
	CheckoutURL string
}

// Completed reports whether the processor collected the payment already.
func (t *Transaction) Completed() bool {
	return t.Status == "completed" || t.Status == "paid"
}

// PortalLink is a pre-authenticated customer portal URL.
type PortalLink struct {
	URL       string
	ExpiresAt time.Time
}
