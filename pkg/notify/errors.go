package notify

import "errors"

var (
	ErrInvalidConfig   = errors.New("notify: invalid config")
	ErrInvalidMessage  = errors.New("notify: invalid message")
	ErrSendFailed      = errors.New("notify: failed to send email")
	ErrUnknownTemplate = errors.New("notify: unknown template")
	ErrNoRecipient     = errors.New("notify: intent has no recipient")

	ErrRedisConnString = errors.New("notify: failed to parse redis connection string")
	ErrRedisNotReady   = errors.New("notify: redis did not become ready within the given time period")
)
