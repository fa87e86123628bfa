package main

import (
	"errors"

	"qms/frontdesk-service/internal/config"
	"qms/frontdesk-service/internal/store/postgres"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			if cfg.StoreDriver != config.StoreDriverPostgres {
				return errors.New("migrate needs STORE_DRIVER=postgres")
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgres.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				logger.Info("schema is up to date")
				return nil
			}
			logger.Info("migrations applied", "versions", applied)
			return nil
		},
	}
}
