package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/clinicbilling/pkg/config"
)

func newMigrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply postgres migrations or create mongo indexes for STORE_DRIVER",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load[storeConfig]()
			if err != nil {
				return err
			}
			_, closeStore, err := openStore(cmd.Context(), cfg, true, rt.log)
			if err != nil {
				return err
			}
			return closeStore(context.WithoutCancel(cmd.Context()))
		},
	}
}
