// Package httpserver runs an http.Handler until the context is cancelled or
// the process receives SIGINT/SIGTERM, then drains in-flight requests.
//
// # Usage
//
//	srv := httpserver.New(cfg, log)
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// Liveness and Readiness build the /healthz and /readyz handlers. Readiness
// runs every named check concurrently and answers 503 when any of them fails.
package httpserver
