// Command clinicbilling runs the clinic billing service.
//
//	clinicbilling serve     # HTTP API, webhook receiver and expiry sweeper
//	clinicbilling migrate   # apply schema migrations or create indexes
//	clinicbilling sweep     # repair expired plans once or on a schedule
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
