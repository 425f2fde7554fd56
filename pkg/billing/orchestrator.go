package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

// ChangeMode is the path a plan change took.
type ChangeMode string

const (
	ChangeCancel    ChangeMode = "cancel_at_period_end"
	ChangeUpgrade   ChangeMode = "upgrade"
	ChangeDowngrade ChangeMode = "downgrade"
)

// ChangeResult is returned to the tenant after a plan change request.
// CheckoutURL is set only when the tenant must complete a payment.
type ChangeResult struct {
	Mode          ChangeMode `json:"mode"`
	CheckoutURL   string     `json:"checkout_url,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Message       string     `json:"message"`
}

// Orchestrator turns tenant plan change requests into processor commands.
// It never writes billing records; the resulting webhooks do.
type Orchestrator struct {
	processor Processor
	records   RecordStore
	catalog   *Catalog
	observer  Observer
	log       *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
// Panics if any dependency is nil to fail fast during initialization.
func NewOrchestrator(processor Processor, records RecordStore, catalog *Catalog, opts ...OrchestratorOption) *Orchestrator {
	switch {
	case processor == nil:
		panic("billing: Processor is required")
	case records == nil:
		panic("billing: RecordStore is required")
	case catalog == nil:
		panic("billing: Catalog is required")
	}

	o := &Orchestrator{
		processor: processor,
		records:   records,
		catalog:   catalog,
		observer:  nopObserver{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With(logger.Component("billing.orchestrator"))
	return o
}

// ChangePlan moves the tenant's subscription to target.
//
// Free cancels at the end of the billing period. A more expensive tier
// creates a transaction for the price difference and returns its checkout URL.
// A cheaper or equally priced tier is scheduled for the next billing period.
// Processor failures are wrapped in ErrProcessor.
func (o *Orchestrator) ChangePlan(ctx context.Context, tenantID uuid.UUID, target PlanTier) (*ChangeResult, error) {
	rec, err := o.linkedRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if rec.PaymentSubscriptionID == "" {
		return nil, ErrNoSubscription
	}
	log := o.log.With(
		logger.TenantID(tenantID),
		logger.SubscriptionID(rec.PaymentSubscriptionID),
		slog.String("target", string(target)),
	)

	if target == TierFree {
		if err := o.processor.CancelSubscription(ctx, rec.PaymentSubscriptionID, CancelNextBillingPeriod); err != nil {
			return nil, o.processorError(ctx, log, "cancel subscription", err)
		}
		o.observer.PlanChangeRequested(string(ChangeCancel))
		log.InfoContext(ctx, "cancellation scheduled")
		return &ChangeResult{
			Mode:    ChangeCancel,
			Message: "Your subscription will be cancelled at the end of the current billing period.",
		}, nil
	}

	targetPriceID, err := o.catalog.ChangePriceID(target)
	if err != nil {
		return nil, err
	}

	sub, err := o.processor.GetSubscription(ctx, rec.PaymentSubscriptionID)
	if err != nil {
		return nil, o.processorError(ctx, log, "get subscription", err)
	}
	if sub.PriceID == targetPriceID || o.catalog.TierForPrice(sub.PriceID) == target {
		return nil, ErrPlanUnchanged
	}

	current, err := o.processor.GetPrice(ctx, sub.PriceID)
	if err != nil {
		return nil, o.processorError(ctx, log, "get current price", err)
	}
	next, err := o.processor.GetPrice(ctx, targetPriceID)
	if err != nil {
		return nil, o.processorError(ctx, log, "get target price", err)
	}
	if !strings.EqualFold(current.UnitPrice.Currency, next.UnitPrice.Currency) {
		return nil, fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, current.UnitPrice.Currency, next.UnitPrice.Currency)
	}

	planName := o.catalog.DisplayName(target)

	if next.UnitPrice.Amount <= current.UnitPrice.Amount {
		if err := o.processor.UpdateSubscriptionPrice(ctx, sub.ID, targetPriceID, ProrationNextBillingPeriod); err != nil {
			return nil, o.processorError(ctx, log, "schedule downgrade", err)
		}
		o.observer.PlanChangeRequested(string(ChangeDowngrade))
		log.InfoContext(ctx, "downgrade scheduled")
		return &ChangeResult{
			Mode:    ChangeDowngrade,
			Message: fmt.Sprintf("Your plan will change to %s at the start of the next billing period.", planName),
		}, nil
	}

	customerID := sub.CustomerID
	if customerID == "" {
		customerID = rec.PaymentCustomerID
	}
	tx, err := o.processor.CreateTransaction(ctx, TransactionRequest{
		CustomerID:     customerID,
		SubscriptionID: sub.ID,
		TenantID:       tenantID.String(),
		ProductID:      next.ProductID,
		Description:    "Upgrade to " + planName,
		Amount: Money{
			Amount:   next.UnitPrice.Amount - current.UnitPrice.Amount,
			Currency: next.UnitPrice.Currency,
		},
		TargetPriceID: targetPriceID,
	})
	if err != nil {
		return nil, o.processorError(ctx, log, "create upgrade transaction", err)
	}
	o.observer.PlanChangeRequested(string(ChangeUpgrade))

	res := &ChangeResult{Mode: ChangeUpgrade, TransactionID: tx.ID}
	switch {
	case tx.CheckoutURL != "":
		res.CheckoutURL = tx.CheckoutURL
		res.Message = fmt.Sprintf("Complete the payment to upgrade to %s.", planName)
	case tx.Completed():
		res.Message = fmt.Sprintf("Your plan has been upgraded to %s.", planName)
	default:
		return nil, errors.Join(ErrProcessor, ErrNoCheckoutURL)
	}
	log.InfoContext(ctx, "upgrade transaction created", slog.String("transaction_id", tx.ID))
	return res, nil
}

// PortalSession returns a customer portal link for the tenant.
func (o *Orchestrator) PortalSession(ctx context.Context, tenantID uuid.UUID) (*PortalLink, error) {
	rec, err := o.linkedRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var subs []string
	if rec.PaymentSubscriptionID != "" {
		subs = append(subs, rec.PaymentSubscriptionID)
	}
	link, err := o.processor.CreatePortalSession(ctx, rec.PaymentCustomerID, subs...)
	if err != nil {
		return nil, o.processorError(ctx, o.log.With(logger.TenantID(tenantID)), "create portal session", err)
	}
	if link == nil || link.URL == "" {
		return nil, errors.Join(ErrProcessor, ErrNoPortalURL)
	}
	return link, nil
}

func (o *Orchestrator) linkedRecord(ctx context.Context, tenantID uuid.UUID) (*Record, error) {
	rec, err := o.records.Get(ctx, tenantID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("load billing record: %w", err)
	}
	if rec.PaymentCustomerID == "" {
		return nil, ErrNotLinked
	}
	return rec, nil
}

func (o *Orchestrator) processorError(ctx context.Context, log *slog.Logger, op string, err error) error {
	log.ErrorContext(ctx, "processor request failed", slog.String("op", op), logger.Error(err))
	return errors.Join(ErrProcessor, fmt.Errorf("%s: %w", op, err))
}
