package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

// OutcomeKind classifies what the Reconciler did with an event.
type OutcomeKind string

const (
	OutcomeApplied OutcomeKind = "applied"
	OutcomeIgnored OutcomeKind = "ignored" // unrecognized type or nothing to do
	OutcomeFraud   OutcomeKind = "fraud_rejected"
	OutcomeDropped OutcomeKind = "dropped" // tenant could not be resolved
	OutcomeStale   OutcomeKind = "stale"
)

// Outcome is the result of reconciling one event.
type Outcome struct {
	EventID        string
	Type           EventType
	Kind           OutcomeKind
	TenantID       uuid.UUID
	SubscriptionID string
	Intents        []NotificationIntent
}

// Reconciler applies processor webhook events to tenant billing records.
//
// Every handler writes a snapshot of the fields it owns through a single
// atomic store call, so replays converge on the same record. Notifications are
// returned as intents and never sent from here.
type Reconciler struct {
	verifier  WebhookVerifier
	processor Processor
	records   RecordStore
	ledger    *Ledger
	directory Directory
	catalog   *Catalog
	chain     FingerprintChain
	journal   Journal
	observer  Observer
	log       *slog.Logger
	now       func() time.Time
}

// NewReconciler creates a Reconciler.
// Panics if any dependency is nil to fail fast during initialization.
func NewReconciler(
	verifier WebhookVerifier,
	processor Processor,
	records RecordStore,
	ledger *Ledger,
	directory Directory,
	catalog *Catalog,
	opts ...ReconcilerOption,
) *Reconciler {
	switch {
	case verifier == nil:
		panic("billing: WebhookVerifier is required")
	case processor == nil:
		panic("billing: Processor is required")
	case records == nil:
		panic("billing: RecordStore is required")
	case ledger == nil:
		panic("billing: Ledger is required")
	case directory == nil:
		panic("billing: Directory is required")
	case catalog == nil:
		panic("billing: Catalog is required")
	}

	r := &Reconciler{
		verifier:  verifier,
		processor: processor,
		records:   records,
		ledger:    ledger,
		directory: directory,
		catalog:   catalog,
		chain:     DefaultFingerprintChain(processor),
		journal:   nopJournal{},
		observer:  nopObserver{},
		log:       slog.Default(),
		now:       utcNow,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("billing.reconciler"))
	return r
}

// HandleWebhook verifies the raw body against signature, decodes it and
// reconciles the event.
//
// Signature failures return ErrMissingSignature or ErrInvalidSignature and
// touch nothing. A nil error means the event should be acknowledged, even when
// it was dropped or ignored. A non-nil error after verification means the
// processor should redeliver.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Outcome, error) {
	if signature == "" {
		r.observer.WebhookProcessed("unknown", "missing_signature")
		return nil, ErrMissingSignature
	}
	if err := r.verifier.Verify(ctx, payload, signature); err != nil {
		r.observer.WebhookProcessed("unknown", "invalid_signature")
		if errors.Is(err, ErrMissingSignature) || errors.Is(err, ErrInvalidSignature) {
			return nil, err
		}
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	ev, err := DecodeEvent(payload)
	if err != nil {
		r.observer.WebhookProcessed("unknown", "malformed")
		return nil, err
	}

	return r.Reconcile(ctx, ev)
}

// Reconcile dispatches a verified event to its handler.
func (r *Reconciler) Reconcile(ctx context.Context, ev *Event) (*Outcome, error) {
	receivedAt := r.now()
	log := r.log.With(
		logger.EventID(ev.ID),
		logger.EventType(ev.RawType),
	)

	var (
		out *Outcome
		err error
	)
	switch ev.Type {
	case EventSubscriptionCreated:
		out, err = r.subscriptionCreated(ctx, ev, log)
	case EventSubscriptionUpdated:
		out, err = r.subscriptionUpdated(ctx, ev, log)
	case EventSubscriptionActivated:
		out, err = r.subscriptionActivated(ctx, ev, log)
	case EventSubscriptionCanceled:
		out, err = r.subscriptionCanceled(ctx, ev, log)
	case EventTransactionCompleted:
		out, err = r.transactionCompleted(ctx, ev, log)
	case EventUnrecognized:
		log.DebugContext(ctx, "ignoring unrecognized event")
		out = r.outcome(ev, OutcomeIgnored)
	default:
		return nil, errors.Join(ErrUnhandledEvent, fmt.Errorf("event type %d", ev.Type))
	}

	outcome := "error"
	if out != nil {
		outcome = string(out.Kind)
	}
	r.observer.WebhookProcessed(ev.Type.String(), outcome)
	r.record(ctx, ev, out, err, receivedAt, log)

	if err != nil {
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
		return nil, err
	}
	return out, nil
}

func (r *Reconciler) subscriptionCreated(ctx context.Context, ev *Event, log *slog.Logger) (*Outcome, error) {
	s := ev.Subscription
	log = log.With(logger.SubscriptionID(s.ID))

	tenantID, contact, resolveErr := r.resolveTenant(ctx, s.TenantHint, s.CustomerID)

	if s.Status == StatusTrialing {
		owner := tenantID
		if resolveErr != nil {
			owner = uuid.Nil
			log.WarnContext(ctx, "registering trial fingerprint without an owning tenant", logger.Error(resolveErr))
		}
		rejected, err := r.fraudCheck(ctx, ev, owner, s.ID, log)
		if err != nil {
			return nil, err
		}
		if rejected {
			return r.outcome(ev, OutcomeFraud), nil
		}
	}

	if resolveErr != nil {
		log.ErrorContext(ctx, "dropping event: tenant unresolvable",
			logger.Error(resolveErr),
			slog.String("customer_id", s.CustomerID),
		)
		return r.outcome(ev, OutcomeDropped), nil
	}
	log = log.With(logger.TenantID(tenantID))

	plan := r.catalog.TierForPrice(s.PriceID)
	if plan == TierUnknown {
		log.WarnContext(ctx, "unknown price id", slog.String("price_id", s.PriceID))
	}

	prev, err := r.records.Link(ctx, tenantID, Update{
		PaymentCustomerID:     s.CustomerID,
		PaymentSubscriptionID: s.ID,
		Status:                s.Status,
		Plan:                  plan,
		SetEndDate:            true,
		EndDate:               s.EndDate(),
		EventAt:               ev.OccurredAt,
	})
	if errors.Is(err, ErrStaleEvent) {
		log.InfoContext(ctx, "skipping stale event")
		return r.outcome(ev, OutcomeStale), nil
	}
	if errors.Is(err, ErrSubscriptionConflict) {
		log.WarnContext(ctx, "dropping event: tenant holds another live subscription")
		return r.outcome(ev, OutcomeDropped), nil
	}
	if err != nil {
		return nil, fmt.Errorf("link subscription: %w", err)
	}
	r.observeTransition(ctx, prev, s.Status, log)

	out := r.outcome(ev, OutcomeApplied)
	out.TenantID = tenantID

	var tmpl Template
	switch s.Status {
	case StatusTrialing:
		tmpl = TemplateTrialStarted
	case StatusActive:
		tmpl = TemplateSubscriptionActive
	default:
		return out, nil
	}
	if intent, ok := r.intent(ctx, ev, tenantID, contact, s.CustomerID, tmpl, plan, nil, log); ok {
		out.Intents = append(out.Intents, intent)
	}
	return out, nil
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, ev *Event, log *slog.Logger) (*Outcome, error) {
	s := ev.Subscription
	log = log.With(logger.SubscriptionID(s.ID))

	upd := Update{
		Status:     s.Status,
		SetEndDate: true,
		EndDate:    s.EndDate(),
		EventAt:    ev.OccurredAt,
	}
	if s.PriceID != "" {
		upd.Plan = r.catalog.TierForPrice(s.PriceID)
	}
	_, out, err := r.apply(ctx, ev, upd, log)
	return out, err
}

func (r *Reconciler) subscriptionActivated(ctx context.Context, ev *Event, log *slog.Logger) (*Outcome, error) {
	s := ev.Subscription
	log = log.With(logger.SubscriptionID(s.ID))

	upd := Update{
		Status:     StatusActive,
		SetEndDate: true,
		EndDate:    s.EndDate(),
		EventAt:    ev.OccurredAt,
	}
	if s.PriceID != "" {
		upd.Plan = r.catalog.TierForPrice(s.PriceID)
	}

	rec, out, err := r.apply(ctx, ev, upd, log)
	if err != nil || out.Kind != OutcomeApplied {
		return out, err
	}

	plan := upd.Plan
	if plan == "" && rec != nil {
		plan = rec.Plan
	}
	if intent, ok := r.intent(ctx, ev, out.TenantID, nil, s.CustomerID, TemplateSubscriptionActive, plan, nil, log); ok {
		out.Intents = append(out.Intents, intent)
	}
	return out, nil
}

func (r *Reconciler) subscriptionCanceled(ctx context.Context, ev *Event, log *slog.Logger) (*Outcome, error) {
	s := ev.Subscription
	log = log.With(logger.SubscriptionID(s.ID))

	endDate := s.ScheduledAt
	if endDate == nil {
		endDate = s.PeriodEndsAt
	}
	expired := endDate == nil || !endDate.After(r.now())

	upd := Update{
		Status:     StatusCanceled,
		SetEndDate: true,
		EndDate:    endDate,
		EventAt:    ev.OccurredAt,
	}
	if expired {
		upd.Status = StatusExpired
		upd.Plan = TierFree
	}

	prev, out, err := r.apply(ctx, ev, upd, log)
	if err != nil || out.Kind != OutcomeApplied {
		return out, err
	}

	plan := r.catalog.TierForPrice(s.PriceID)
	if prev != nil && prev.Plan != "" && prev.Plan != TierFree {
		plan = prev.Plan
	}
	if intent, ok := r.intent(ctx, ev, out.TenantID, nil, s.CustomerID, TemplateSubscriptionCancelled, plan, endDate, log); ok {
		out.Intents = append(out.Intents, intent)
	}
	return out, nil
}

func (r *Reconciler) transactionCompleted(ctx context.Context, ev *Event, log *slog.Logger) (*Outcome, error) {
	t := ev.Transaction
	if t.SubscriptionID == "" {
		return r.outcome(ev, OutcomeIgnored), nil
	}
	log = log.With(logger.SubscriptionID(t.SubscriptionID))

	out := r.outcome(ev, OutcomeApplied)
	out.SubscriptionID = t.SubscriptionID

	if t.TargetPriceID != "" {
		// The price difference was collected by this transaction.
		if err := r.processor.UpdateSubscriptionPrice(ctx, t.SubscriptionID, t.TargetPriceID, ProrationDoNotBill); err != nil {
			return nil, errors.Join(ErrProcessor, fmt.Errorf("apply paid upgrade: %w", err))
		}
		log.InfoContext(ctx, "paid upgrade applied", slog.String("price_id", t.TargetPriceID))
		return out, nil
	}

	tenantID, _ := uuid.Parse(t.TenantHint)
	trialing := false

	rec, err := r.records.GetBySubscription(ctx, t.SubscriptionID)
	switch {
	case err == nil:
		tenantID = rec.TenantID
		trialing = rec.Status == StatusTrialing
	case !errors.Is(err, ErrRecordNotFound):
		log.WarnContext(ctx, "billing record lookup failed", logger.Error(err))
	}
	out.TenantID = tenantID

	if !trialing {
		sub, err := r.processor.GetSubscription(ctx, t.SubscriptionID)
		if err != nil {
			log.WarnContext(ctx, "subscription lookup failed, skipping fraud check", logger.Error(err))
			return out, nil
		}
		trialing = sub.Status == StatusTrialing
	}
	if !trialing {
		return out, nil
	}

	rejected, err := r.fraudCheck(ctx, ev, tenantID, t.SubscriptionID, log)
	if err != nil {
		return nil, err
	}
	if rejected {
		out.Kind = OutcomeFraud
	}
	return out, nil
}

// fraudCheck registers the instrument behind ev and cancels subscriptionID
// immediately when the instrument already funded another trial.
func (r *Reconciler) fraudCheck(ctx context.Context, ev *Event, tenantID uuid.UUID, subscriptionID string, log *slog.Logger) (bool, error) {
	fp, source := r.chain.Resolve(ctx, ev, log)
	if fp == "" {
		log.InfoContext(ctx, "no payment fingerprint available, skipping fraud check")
		return false, nil
	}

	verdict, err := r.ledger.RegisterTrialUse(ctx, fp, tenantID, subscriptionID)
	if err != nil {
		return false, err
	}
	if verdict.Accepted {
		log.DebugContext(ctx, "trial fingerprint accepted", slog.String("source", source))
		return false, nil
	}

	r.observer.FraudDetected(ev.Type.String())
	log.WarnContext(ctx, "repeat trial detected, canceling subscription",
		slog.String("source", source),
		slog.String("existing_subscription_id", verdict.Existing.SubscriptionID),
		slog.String("existing_tenant_id", verdict.Existing.TenantID.String()),
	)
	if err := r.processor.CancelSubscription(ctx, subscriptionID, CancelImmediately); err != nil {
		return false, errors.Join(ErrProcessor, fmt.Errorf("cancel fraudulent subscription: %w", err))
	}
	return true, nil
}

// apply writes upd onto the record holding the event's subscription, linking
// the subscription to its tenant first when no record holds it yet.
// Cancellations for a subscription no record holds are dropped. It returns
// the record as it was before the write.
func (r *Reconciler) apply(ctx context.Context, ev *Event, upd Update, log *slog.Logger) (*Record, *Outcome, error) {
	s := ev.Subscription
	out := r.outcome(ev, OutcomeApplied)

	prev, err := r.records.Apply(ctx, s.ID, upd)
	if errors.Is(err, ErrRecordNotFound) && ev.Type == EventSubscriptionCanceled {
		log.InfoContext(ctx, "dropping cancellation: no record holds the subscription")
		out.Kind = OutcomeDropped
		return nil, out, nil
	}
	if errors.Is(err, ErrRecordNotFound) {
		tenantID, _, resolveErr := r.resolveTenant(ctx, s.TenantHint, s.CustomerID)
		if resolveErr != nil {
			log.ErrorContext(ctx, "dropping event: tenant unresolvable", logger.Error(resolveErr))
			out.Kind = OutcomeDropped
			return nil, out, nil
		}
		upd.PaymentCustomerID = s.CustomerID
		upd.PaymentSubscriptionID = s.ID
		if upd.Plan == "" {
			upd.Plan = r.catalog.TierForPrice(s.PriceID)
		}
		prev, err = r.records.Link(ctx, tenantID, upd)
		if prev == nil && err == nil {
			prev = &Record{TenantID: tenantID}
		}
	}
	if errors.Is(err, ErrStaleEvent) {
		log.InfoContext(ctx, "skipping stale event")
		out.Kind = OutcomeStale
		return nil, out, nil
	}
	if errors.Is(err, ErrSubscriptionConflict) {
		log.WarnContext(ctx, "dropping event: tenant holds another live subscription")
		out.Kind = OutcomeDropped
		return nil, out, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("apply subscription update: %w", err)
	}

	out.TenantID = prev.TenantID
	r.observeTransition(ctx, prev, upd.Status, log.With(logger.TenantID(prev.TenantID)))
	return prev, out, nil
}

// resolveTenant prefers the tenant id carried in custom data and falls back to
// the processor customer's email. The contact is set only on the email path.
func (r *Reconciler) resolveTenant(ctx context.Context, hint, customerID string) (uuid.UUID, *Contact, error) {
	if hint != "" {
		if id, err := uuid.Parse(hint); err == nil {
			return id, nil, nil
		}
	}
	if customerID == "" {
		return uuid.Nil, nil, errors.Join(ErrTenantUnresolvable, errors.New("no linkage metadata and no customer id"))
	}

	cust, err := r.processor.GetCustomer(ctx, customerID)
	if err != nil {
		return uuid.Nil, nil, errors.Join(ErrTenantUnresolvable, err)
	}
	if cust.Email == "" {
		return uuid.Nil, nil, errors.Join(ErrTenantUnresolvable, errors.New("customer has no email"))
	}

	id, err := r.directory.TenantByEmail(ctx, cust.Email)
	if err != nil {
		return uuid.Nil, nil, errors.Join(ErrTenantUnresolvable, err)
	}

	contact, err := r.directory.ContactByEmail(ctx, cust.Email)
	if err != nil {
		contact = &Contact{Email: cust.Email, Name: cust.Name}
	}
	return id, contact, nil
}

// intent builds a notification for the tenant. The recipient is the contact
// found during linkage, else the tenant admin, else the processor customer.
func (r *Reconciler) intent(
	ctx context.Context,
	ev *Event,
	tenantID uuid.UUID,
	contact *Contact,
	customerID string,
	tmpl Template,
	plan PlanTier,
	endDate *time.Time,
	log *slog.Logger,
) (NotificationIntent, bool) {
	if contact == nil {
		c, err := r.directory.TenantAdmin(ctx, tenantID)
		if err == nil {
			contact = c
		} else if customerID != "" {
			if cust, cerr := r.processor.GetCustomer(ctx, customerID); cerr == nil && cust.Email != "" {
				contact = &Contact{Email: cust.Email, Name: cust.Name}
			}
		}
	}
	if contact == nil || contact.Email == "" {
		log.WarnContext(ctx, "no notification recipient", slog.String("template", string(tmpl)))
		return NotificationIntent{}, false
	}

	recipient := *contact
	if recipient.Name == "" {
		recipient.Name = DefaultRecipientName
	}
	return NotificationIntent{
		EventID:   ev.ID,
		TenantID:  tenantID,
		Template:  tmpl,
		Recipient: recipient,
		PlanName:  r.catalog.DisplayName(plan),
		EndDate:   endDate,
	}, true
}

func (r *Reconciler) observeTransition(ctx context.Context, prev *Record, to Status, log *slog.Logger) {
	if to == "" {
		return
	}
	from := StatusNone
	if prev != nil && prev.Status != "" {
		from = prev.Status
	}
	if !ExpectedTransition(from, to) {
		log.WarnContext(ctx, "unexpected subscription status transition",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
	}
}

func (r *Reconciler) outcome(ev *Event, kind OutcomeKind) *Outcome {
	out := &Outcome{EventID: ev.ID, Type: ev.Type, Kind: kind}
	if ev.Subscription != nil {
		out.SubscriptionID = ev.Subscription.ID
	}
	return out
}

func (r *Reconciler) record(ctx context.Context, ev *Event, out *Outcome, procErr error, receivedAt time.Time, log *slog.Logger) {
	entry := JournalEntry{
		EventID:    ev.ID,
		EventType:  ev.RawType,
		OccurredAt: ev.OccurredAt,
		ReceivedAt: receivedAt,
		Outcome:    "error",
	}
	if out != nil {
		entry.Outcome = string(out.Kind)
		entry.SubscriptionID = out.SubscriptionID
		entry.TenantID = out.TenantID
	}
	if procErr != nil {
		entry.Error = procErr.Error()
	}
	if err := r.journal.Record(ctx, entry); err != nil {
		log.WarnContext(ctx, "journal write failed", logger.Error(err))
	}
}
