package logger

import (
	"log/slog"

	"github.com/google/uuid"
)

// Error records err under "error". Nil errors produce an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component names the emitting component.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func TenantID(id uuid.UUID) slog.Attr {
	return slog.String("tenant_id", id.String())
}

func SubscriptionID(id string) slog.Attr {
	return slog.String("subscription_id", id)
}

func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

// EventType records the processor's event name.
func EventType(name string) slog.Attr {
	return slog.String("event_type", name)
}

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}
