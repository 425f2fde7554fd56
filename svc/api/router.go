package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/clinicbilling/pkg/httpserver"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

const readinessTimeout = 3 * time.Second

// Router builds the HTTP routes.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", httpserver.Liveness())
	r.Get("/readyz", httpserver.Readiness(a.log, readinessTimeout, a.checks))
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics)
	}

	r.Post("/webhooks/paddle", a.handleWebhook)

	r.Route("/billing", func(r chi.Router) {
		r.Use(a.Identify)
		r.Get("/plan", a.handlePlan)
		r.Post("/quota/check", a.handleQuotaCheck)

		r.Group(func(r chi.Router) {
			r.Use(a.RequireAdmin)
			r.Post("/subscription/change", a.handleChangePlan)
			r.Post("/portal-session", a.handlePortalSession)
			if a.events != nil {
				r.Get("/events", a.handleEvents)
			}
		})
	})
	return r
}

// requestLogger logs each request and records its latency by route pattern.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		reqID := middleware.GetReqID(r.Context())
		r = r.WithContext(logger.WithRequestID(r.Context(), reqID))
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		if a.observer != nil {
			a.observer.ObserveHTTP(r.Method, route, status, elapsed)
		}

		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		a.log.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("elapsed", elapsed),
		)
	})
}
