// Package logger builds the service's slog logger: JSON in production and
// staging, text in development, with request-scoped attributes pulled from
// the context on every record.
package logger
