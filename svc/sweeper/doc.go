// Package sweeper moves tenants whose paid grace period ended back to the
// free plan. The gate repairs plans lazily on read; the sweeper catches
// tenants that are never read so stored plans and reports stay accurate.
//
// # Usage
//
//	s := sweeper.New(store, cfg, sweeper.WithCounter(collector))
//
//	// single pass, e.g. from a CLI
//	n, err := s.RunOnce(ctx)
//
//	// on the configured cron schedule until ctx is done
//	err = s.Run(ctx)
//
// A record that fails to repair is logged and skipped; the remaining records
// of the run are still processed and the failures are returned joined.
package sweeper
