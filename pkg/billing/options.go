package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Journal stores a trail of verified webhook events for support lookups.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}

// JournalEntry is one processed webhook event.
type JournalEntry struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	TenantID       uuid.UUID `json:"tenant_id"`
	OccurredAt     time.Time `json:"occurred_at"`
	ReceivedAt     time.Time `json:"received_at"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
}

// Observer receives counters for the billing core.
type Observer interface {
	WebhookProcessed(eventType, outcome string)
	FraudDetected(eventType string)
	QuotaDenied(reason string)
	PlanChangeRequested(mode string)
}

type nopObserver struct{}

func (nopObserver) WebhookProcessed(string, string) {}
func (nopObserver) FraudDetected(string)            {}
func (nopObserver) QuotaDenied(string)              {}
func (nopObserver) PlanChangeRequested(string)      {}

type nopJournal struct{}

func (nopJournal) Record(context.Context, JournalEntry) error { return nil }

func utcNow() time.Time { return time.Now().UTC() }

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcilerLogger sets the logger. Defaults to slog.Default().
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithReconcilerClock overrides the time source used for expiry checks.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithJournal records every verified event in j.
func WithJournal(j Journal) ReconcilerOption {
	return func(r *Reconciler) {
		if j != nil {
			r.journal = j
		}
	}
}

// WithReconcilerObserver reports webhook outcomes to o.
func WithReconcilerObserver(o Observer) ReconcilerOption {
	return func(r *Reconciler) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithFingerprintChain replaces the default fingerprint recovery chain.
func WithFingerprintChain(c FingerprintChain) ReconcilerOption {
	return func(r *Reconciler) {
		if len(c) > 0 {
			r.chain = c
		}
	}
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger. Defaults to slog.Default().
func WithGateLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// WithGateClock overrides the time source used by the Plan Resolver.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithGateObserver reports denials to o.
func WithGateObserver(o Observer) GateOption {
	return func(g *Gate) {
		if o != nil {
			g.observer = o
		}
	}
}

// WithPatientCounter enables patient quota checks.
func WithPatientCounter(c PatientCounter) GateOption {
	return func(g *Gate) {
		if c != nil {
			g.patients = c
		}
	}
}

// WithStorageMeter enables storage quota checks.
func WithStorageMeter(m StorageMeter) GateOption {
	return func(g *Gate) {
		if m != nil {
			g.storage = m
		}
	}
}

// WithoutPlanRepair disables the opportunistic plan=free write on expired
// cancellations observed during reads.
func WithoutPlanRepair() GateOption {
	return func(g *Gate) {
		g.repair = false
	}
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger. Defaults to slog.Default().
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithOrchestratorObserver reports plan change requests to obs.
func WithOrchestratorObserver(obs Observer) OrchestratorOption {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}
