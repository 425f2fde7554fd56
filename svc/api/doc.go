// Package api exposes the billing core over HTTP: the processor webhook,
// the tenant billing endpoints and plan enforcement middlewares for the
// clinic's resource controllers.
//
// Tenant identity is asserted by the gateway through the X-Tenant-ID,
// X-User-Email and X-User-Role headers.
package api
