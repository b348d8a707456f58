package main

import (
	"github.com/eaglebank/transaction-core/internal/config"
	"github.com/eaglebank/transaction-core/internal/logging"
	"github.com/eaglebank/transaction-core/internal/repository"
	"github.com/spf13/cobra"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging)

			ctx := cmd.Context()
			db, err := repository.OpenDB(ctx, cfg.Database.URL, 1)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(ctx, db); err != nil {
				return err
			}
			logger.Info("schema applied")
			return nil
		},
	}
}
