package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType is the closed set of webhook events the Reconciler understands.
type EventType int

const (
	EventUnrecognized EventType = iota
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionActivated
	EventSubscriptionCanceled
	EventTransactionCompleted
)

var eventTypeNames = map[string]EventType{
	"subscription.created":   EventSubscriptionCreated,
	"subscription.updated":   EventSubscriptionUpdated,
	"subscription.activated": EventSubscriptionActivated,
	"subscription.canceled":  EventSubscriptionCanceled,
	"transaction.completed":  EventTransactionCompleted,
}

// ParseEventType maps the processor's event name to EventType.
func ParseEventType(name string) EventType {
	if t, ok := eventTypeNames[name]; ok {
		return t
	}
	return EventUnrecognized
}

// KnownEventTypes lists every recognized event type.
func KnownEventTypes() []EventType {
	return []EventType{
		EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionActivated,
		EventSubscriptionCanceled,
		EventTransactionCompleted,
	}
}

func (t EventType) String() string {
	for name, v := range eventTypeNames {
		if v == t {
			return name
		}
	}
	return "unrecognized"
}

// Event is a verified webhook notification.
type Event struct {
	ID         string
	Type       EventType
	RawType    string
	OccurredAt time.Time

	Subscription *SubscriptionPayload
	Transaction  *TransactionPayload
}

// SubscriptionPayload is the subscription entity carried by subscription.* events.
type SubscriptionPayload struct {
	ID              string
	Status          Status
	CustomerID      string
	PriceID         string
	TenantHint      string
	PaymentMethodID string
	Card            *Card
	PeriodEndsAt    *time.Time
	NextBilledAt    *time.Time
	ScheduledAt     *time.Time
}

// EndDate is the billing-period end, or the next charge date when absent.
func (s *SubscriptionPayload) EndDate() *time.Time {
	if s.PeriodEndsAt != nil {
		return s.PeriodEndsAt
	}
	return s.NextBilledAt
}

// TransactionPayload is the transaction entity carried by transaction.* events.
type TransactionPayload struct {
	ID             string
	Status         string
	CustomerID     string
	SubscriptionID string
	TenantHint     string
	TargetPriceID  string // set on upgrade charges created by the Orchestrator
	Payments       []PaymentAttempt
}

// PaymentAttempt is one payment made against a transaction.
type PaymentAttempt struct {
	PaymentMethodID string
	Card            *Card
}

type wireEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type wireCard struct {
	Fingerprint string `json:"fingerprint"`
	Type        string `json:"type"`
	Last4       string `json:"last4"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
}

type wireSubscription struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	CustomerID           string         `json:"customer_id"`
	CustomData           map[string]any `json:"custom_data"`
	PaymentMethodID      string         `json:"payment_method_id"`
	NextBilledAt         *string        `json:"next_billed_at"`
	CurrentBillingPeriod *struct {
		EndsAt string `json:"ends_at"`
	} `json:"current_billing_period"`
	ScheduledChange *struct {
		EffectiveAt string `json:"effective_at"`
	} `json:"scheduled_change"`
	PaymentMethod *struct {
		Card *wireCard `json:"card"`
	} `json:"payment_method"`
	Items []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

type wireTransaction struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomData     map[string]any `json:"custom_data"`
	Payments       []struct {
		PaymentMethodID string `json:"payment_method_id"`
		MethodDetails   *struct {
			Card *wireCard `json:"card"`
		} `json:"method_details"`
	} `json:"payments"`
}

// DecodeEvent parses a verified webhook body.
// Unrecognized event types decode successfully with an empty payload.
func DecodeEvent(payload []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	if w.EventType == "" {
		return nil, errors.Join(ErrMalformedEvent, errors.New("event_type is empty"))
	}

	ev := &Event{
		ID:      w.EventID,
		Type:    ParseEventType(w.EventType),
		RawType: w.EventType,
	}
	if t := parseTime(w.OccurredAt); t != nil {
		ev.OccurredAt = *t
	}

	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionActivated, EventSubscriptionCanceled:
		var s wireSubscription
		if err := json.Unmarshal(w.Data, &s); err != nil {
			return nil, errors.Join(ErrMalformedEvent, fmt.Errorf("subscription data: %w", err))
		}
		if s.ID == "" {
			return nil, errors.Join(ErrMalformedEvent, errors.New("subscription id is empty"))
		}
		ev.Subscription = s.payload()
	case EventTransactionCompleted:
		var t wireTransaction
		if err := json.Unmarshal(w.Data, &t); err != nil {
			return nil, errors.Join(ErrMalformedEvent, fmt.Errorf("transaction data: %w", err))
		}
		ev.Transaction = t.payload()
	}

	return ev, nil
}

func (s wireSubscription) payload() *SubscriptionPayload {
	p := &SubscriptionPayload{
		ID:              s.ID,
		Status:          ParseStatus(s.Status),
		CustomerID:      s.CustomerID,
		TenantHint:      tenantHint(s.CustomData),
		PaymentMethodID: s.PaymentMethodID,
	}
	if len(s.Items) > 0 {
		p.PriceID = s.Items[0].Price.ID
	}
	if s.NextBilledAt != nil {
		p.NextBilledAt = parseTime(*s.NextBilledAt)
	}
	if s.CurrentBillingPeriod != nil {
		p.PeriodEndsAt = parseTime(s.CurrentBillingPeriod.EndsAt)
	}
	if s.ScheduledChange != nil {
		p.ScheduledAt = parseTime(s.ScheduledChange.EffectiveAt)
	}
	if s.PaymentMethod != nil && s.PaymentMethod.Card != nil {
		p.Card = s.PaymentMethod.Card.card()
	}
	return p
}

func (t wireTransaction) payload() *TransactionPayload {
	p := &TransactionPayload{
		ID:             t.ID,
		Status:         t.Status,
		CustomerID:     t.CustomerID,
		SubscriptionID: t.SubscriptionID,
		TenantHint:     tenantHint(t.CustomData),
	}
	if v, ok := t.CustomData[CustomDataTargetPrice].(string); ok {
		p.TargetPriceID = v
	}
	if v, ok := t.CustomData[CustomDataSubscriptionID].(string); ok && p.SubscriptionID == "" {
		p.SubscriptionID = v
	}
	for _, pay := range t.Payments {
		a := PaymentAttempt{PaymentMethodID: pay.PaymentMethodID}
		if pay.MethodDetails != nil && pay.MethodDetails.Card != nil {
			a.Card = pay.MethodDetails.Card.card()
		}
		p.Payments = append(p.Payments, a)
	}
	return p
}

func (c *wireCard) card() *Card {
	return &Card{
		Fingerprint: c.Fingerprint,
		Type:        c.Type,
		Last4:       c.Last4,
		ExpiryMonth: c.ExpiryMonth,
		ExpiryYear:  c.ExpiryYear,
	}
}

// Custom data keys written on processor entities.
const (
	CustomDataTenantID       = "tenant_id"
	CustomDataSubscriptionID = "subscription_id"
	CustomDataTargetPrice    = "target_price_id"
)

// tenantHint reads the tenant linkage written into custom data at checkout.
func tenantHint(data map[string]any) string {
	for _, key := range []string{CustomDataTenantID, "clinic_id", "clinicId"} {
		if v, ok := data[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
