package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/clinicbilling/pkg/config"
	"github.com/dmitrymomot/clinicbilling/svc/sweeper"
)

type sweepConfig struct {
	Store   storeConfig
	Sweeper sweeper.Config
}

func newSweepCmd(rt *runtime) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Move tenants whose grace period ended back to the free plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load[sweepConfig]()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(ctx, cfg.Store, false, rt.log)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore(context.WithoutCancel(ctx)) }()

			s := sweeper.New(store, cfg.Sweeper, sweeper.WithLogger(rt.log))
			if !once {
				return s.Run(ctx)
			}
			n, err := s.RunOnce(ctx)
			rt.log.InfoContext(ctx, "sweep complete", slog.Int("repaired", n))
			return err
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	return cmd
}
