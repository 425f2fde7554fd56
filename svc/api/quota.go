package api

import (
	"fmt"
	"net/http"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

// SizeFunc reports the byte size of the upload carried by r.
type SizeFunc func(r *http.Request) (int64, error)

// ContentLength reads the size from the request's Content-Length.
func ContentLength(r *http.Request) (int64, error) {
	if r.ContentLength < 0 {
		return 0, fmt.Errorf("%w: content length is required", ErrInvalidBody)
	}
	return r.ContentLength, nil
}

// RequirePatientQuota admits a request only if the tenant can add one patient.
// Identify must run first.
func (a *API) RequirePatientQuota(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, r, a.log, ErrUnauthenticated)
			return
		}
		d, err := a.gate.CheckQuota(r.Context(), id.TenantID, billing.ResourcePatients, 1)
		if err != nil {
			writeError(w, r, a.log, err)
			return
		}
		if !d.Allowed {
			writeDenial(w, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUploadQuota admits an upload only if its size fits the tenant's plan.
// A nil size falls back to ContentLength. Identify must run first.
func (a *API) RequireUploadQuota(size SizeFunc) func(http.Handler) http.Handler {
	if size == nil {
		size = ContentLength
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, r, a.log, ErrUnauthenticated)
				return
			}
			n, err := size(r)
			if err != nil {
				writeError(w, r, a.log, err)
				return
			}
			d, err := a.gate.CheckQuota(r.Context(), id.TenantID, billing.ResourceFiles, n)
			if err != nil {
				writeError(w, r, a.log, err)
				return
			}
			if !d.Allowed {
				writeDenial(w, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireFeature admits a request only if the tenant's plan grants f.
// Identify must run first.
func (a *API) RequireFeature(f billing.Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				writeError(w, r, a.log, ErrUnauthenticated)
				return
			}
			d, err := a.gate.CheckFeature(r.Context(), id.TenantID, f)
			if err != nil {
				writeError(w, r, a.log, err)
				return
			}
			if !d.Allowed {
				writeDenial(w, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
