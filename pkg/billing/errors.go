package billing

import "errors"

var (
	ErrRecordNotFound       = errors.New("billing: record not found")
	ErrFingerprintNotFound  = errors.New("billing: fingerprint not found")
	ErrTenantNotFound       = errors.New("billing: tenant not found")
	ErrContactNotFound      = errors.New("billing: contact not found")
	ErrStaleEvent           = errors.New("billing: event is older than the stored state")
	ErrSubscriptionConflict = errors.New("billing: tenant already holds another live subscription")

	ErrMissingSignature = errors.New("billing: webhook signature is missing")
	ErrInvalidSignature = errors.New("billing: webhook signature verification failed")
	ErrMalformedEvent   = errors.New("billing: malformed webhook payload")
	ErrUnhandledEvent   = errors.New("billing: event type has no handler")

	ErrTenantUnresolvable = errors.New("billing: subscription cannot be linked to a tenant")
	ErrEmptyFingerprint   = errors.New("billing: fingerprint is empty")

	ErrProcessor            = errors.New("billing: payment processor request failed")
	ErrNoSubscription       = errors.New("billing: tenant has no linked subscription")
	ErrNotLinked            = errors.New("billing: tenant is not linked to a payment customer")
	ErrInvalidTargetPlan    = errors.New("billing: invalid target plan")
	ErrPlanUnchanged        = errors.New("billing: subscription is already on the requested plan")
	ErrCurrencyMismatch     = errors.New("billing: prices use different currencies")
	ErrNoPrice              = errors.New("billing: no price configured for plan")
	ErrNoCheckoutURL        = errors.New("billing: no checkout URL returned from processor")
	ErrNoPortalURL          = errors.New("billing: no portal URL returned from processor")
	ErrUnknownResource      = errors.New("billing: unknown resource kind")
	ErrInvalidCatalog       = errors.New("billing: invalid plan catalog")
	ErrMissingAPIKey        = errors.New("billing: processor API key is required")
	ErrMissingWebhookSecret = errors.New("billing: processor webhook secret is required")
	ErrInvalidEnvironment   = errors.New("billing: invalid processor environment")
)
