package api

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

var (
	ErrUnauthenticated = errors.New("api: tenant identity is missing or invalid")
	ErrForbidden       = errors.New("api: clinic admin role required")
	ErrInvalidBody     = errors.New("api: invalid request body")
	ErrBodyTooLarge    = errors.New("api: request body too large")
)

type errorMapping struct {
	target  error
	status  int
	code    string
	exposed bool // message is safe to show
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{billing.ErrMissingSignature, http.StatusUnauthorized, "missing_signature", true},
	{billing.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature", true},
	{billing.ErrMalformedEvent, http.StatusBadRequest, "malformed_event", true},
	{ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", true},
	{ErrForbidden, http.StatusForbidden, "forbidden", true},
	{ErrBodyTooLarge, http.StatusRequestEntityTooLarge, "body_too_large", true},
	{ErrInvalidBody, http.StatusUnprocessableEntity, "validation_error", true},
	{billing.ErrInvalidTargetPlan, http.StatusUnprocessableEntity, "invalid_plan", true},
	{billing.ErrPlanUnchanged, http.StatusUnprocessableEntity, "plan_unchanged", true},
	{billing.ErrUnknownResource, http.StatusUnprocessableEntity, "unknown_resource", true},
	{billing.ErrNotLinked, http.StatusNotFound, "not_linked", true},
	{billing.ErrNoSubscription, http.StatusNotFound, "no_subscription", true},
	{billing.ErrRecordNotFound, http.StatusNotFound, "not_found", true},
	{billing.ErrProcessor, http.StatusInternalServerError, "processor_error", true},
}

// errorResponse returns the status and body for err. Unmapped errors are
// reported as internal errors without their message.
func errorResponse(err error) (int, *ErrorDetail) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			detail := &ErrorDetail{Code: m.code}
			if m.exposed {
				detail.Message = err.Error()
			}
			return m.status, detail
		}
	}
	return http.StatusInternalServerError, &ErrorDetail{Code: "internal_error", Message: http.StatusText(http.StatusInternalServerError)}
}

// denialStatus maps a gate refusal reason to a status code.
func denialStatus(reason billing.Reason) int {
	switch reason {
	case billing.ReasonPatientLimit:
		return http.StatusConflict
	case billing.ReasonFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case billing.ReasonStorageExceeded:
		return http.StatusInsufficientStorage
	case billing.ReasonUploadsNotAllowed, billing.ReasonFeatureUnavailable:
		return http.StatusForbidden
	default:
		return http.StatusForbidden
	}
}
