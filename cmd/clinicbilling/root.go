package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/clinicbilling/pkg/config"
	"github.com/dmitrymomot/clinicbilling/pkg/logger"
)

// runtime carries what every command needs after the env is loaded.
type runtime struct {
	app config.App
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	var (
		envFiles []string
		rt       runtime
	)

	root := &cobra.Command{
		Use:           "clinicbilling",
		Short:         "Subscription billing for multi-tenant clinic workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnv(envFiles...); err != nil {
				return err
			}
			app, err := config.Load[config.App]()
			if err != nil {
				return err
			}
			logCfg, err := config.Load[logger.Config]()
			if err != nil {
				return err
			}
			log, err := logger.New(app.Name, app.Environment, logCfg)
			if err != nil {
				return err
			}
			slog.SetDefault(log)

			rt.app = app
			rt.log = log
			return nil
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load before reading the environment (default ./.env when present)")

	root.AddCommand(
		newServeCmd(&rt),
		newMigrateCmd(&rt),
		newSweepCmd(&rt),
	)
	return root
}
