package logger

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// ContextExtractor pulls one attribute out of a context.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

type ctxKey int

const (
	tenantKey ctxKey = iota
	requestKey
	eventKey
)

// WithTenantID stores the tenant id for log enrichment.
func WithTenantID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantKey, id)
}

// WithRequestID stores the request id for log enrichment.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey, id)
}

// WithEventID stores the webhook event id for log enrichment.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, eventKey, id)
}

// DefaultExtractors reads tenant, request and event ids set by the With* helpers.
func DefaultExtractors() []ContextExtractor {
	return []ContextExtractor{
		func(ctx context.Context) (slog.Attr, bool) {
			id, ok := ctx.Value(tenantKey).(uuid.UUID)
			return TenantID(id), ok && id != uuid.Nil
		},
		func(ctx context.Context) (slog.Attr, bool) {
			id, ok := ctx.Value(requestKey).(string)
			return RequestID(id), ok && id != ""
		},
		func(ctx context.Context) (slog.Attr, bool) {
			id, ok := ctx.Value(eventKey).(string)
			return EventID(id), ok && id != ""
		},
	}
}

// contextHandler adds extracted attributes to each record before delegating.
type contextHandler struct {
	next       slog.Handler
	extractors []ContextExtractor
}

func newContextHandler(next slog.Handler, extractors ...ContextExtractor) slog.Handler {
	return &contextHandler{next: next, extractors: extractors}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	for _, ex := range h.extractors {
		if attr, ok := ex(ctx); ok {
			rec.AddAttrs(attr)
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs), extractors: h.extractors}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name), extractors: h.extractors}
}
