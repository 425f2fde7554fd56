package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
	"github.com/dmitrymomot/clinicbilling/pkg/httpserver"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

// WebhookHandler verifies and reconciles one processor delivery.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*billing.Outcome, error)
}

// PlanGate answers plan enforcement questions.
type PlanGate interface {
	CheckQuota(ctx context.Context, tenantID uuid.UUID, res billing.Resource, delta int64) (billing.Decision, error)
	CheckFeature(ctx context.Context, tenantID uuid.UUID, f billing.Feature) (billing.Decision, error)
	UsageSummary(ctx context.Context, tenantID uuid.UUID) (*billing.UsageSummary, error)
}

// PlanChanger starts plan changes and portal sessions.
type PlanChanger interface {
	ChangePlan(ctx context.Context, tenantID uuid.UUID, target billing.PlanTier) (*billing.ChangeResult, error)
	PortalSession(ctx context.Context, tenantID uuid.UUID) (*billing.PortalLink, error)
}

// Notifier delivers reconciler intents without blocking the caller.
type Notifier interface {
	Notify(ctx context.Context, intents []billing.NotificationIntent)
}

// EventLog lists recent webhook events of a tenant.
type EventLog interface {
	Recent(ctx context.Context, tenantID uuid.UUID, limit int) ([]billing.JournalEntry, error)
}

// RequestObserver records request latency.
type RequestObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

const (
	maxWebhookBytes = 1 << 20
	maxJSONBytes    = 64 << 10
)

// API holds the handlers' dependencies.
type API struct {
	webhooks WebhookHandler
	gate     PlanGate
	changer  PlanChanger
	notifier Notifier
	events   EventLog
	observer RequestObserver
	metrics  http.Handler
	checks   map[string]httpserver.Check
	log      *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithNotifier sends the reconciler's notification intents.
func WithNotifier(n Notifier) Option {
	return func(a *API) { a.notifier = n }
}

// WithEventLog enables GET /billing/events.
func WithEventLog(l EventLog) Option {
	return func(a *API) { a.events = l }
}

// WithMetrics records request latency and serves h on /metrics.
func WithMetrics(obs RequestObserver, h http.Handler) Option {
	return func(a *API) {
		a.observer = obs
		a.metrics = h
	}
}

// WithReadinessCheck adds a dependency probe to /readyz.
func WithReadinessCheck(name string, c httpserver.Check) Option {
	return func(a *API) {
		if a.checks == nil {
			a.checks = make(map[string]httpserver.Check)
		}
		a.checks[name] = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// New creates an API.
// Panics if any required dependency is nil to fail fast during initialization.
func New(webhooks WebhookHandler, gate PlanGate, changer PlanChanger, opts ...Option) *API {
	if webhooks == nil || gate == nil || changer == nil {
		panic("api: webhook handler, gate and plan changer are required")
	}
	a := &API{
		webhooks: webhooks,
		gate:     gate,
		changer:  changer,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(logger.Component("api"))
	return a
}
