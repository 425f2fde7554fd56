package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

// Headers set by the gateway after authentication.
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"

	RoleAdmin = "admin"
)

// Identity is the caller as asserted by the gateway.
type Identity struct {
	TenantID uuid.UUID
	Email    string
	Role     string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by Identify.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Identify reads the gateway headers. Requests without a valid tenant id are
// rejected with 401.
func (a *API) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := uuid.Parse(strings.TrimSpace(r.Header.Get(HeaderTenantID)))
		if err != nil || tenantID == uuid.Nil {
			writeError(w, r, a.log, ErrUnauthenticated)
			return
		}
		id := Identity{
			TenantID: tenantID,
			Email:    strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
			Role:     strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
		}
		ctx := logger.WithTenantID(WithIdentity(r.Context(), id), tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin lets only clinic administrators through.
func (a *API) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			writeError(w, r, a.log, ErrUnauthenticated)
			return
		}
		if !id.IsAdmin() {
			writeError(w, r, a.log, ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
