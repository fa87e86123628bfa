package main

import (
	"context"
	"fmt"
	"log/slog"

	"qms/frontdesk-service/internal/config"
	"qms/frontdesk-service/internal/logging"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const serviceName = "frontdesk-service"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Front-desk ticketing for a walk-in clinic",
		Long:         "Issues daily ticket numbers, tracks each patient from registration to consultation and drives the slip and label printers.",
		SilenceUsage: true,
	}

	// Global config flag, available for all commands.
	cmd.PersistentFlags().String("config", "", "optional YAML config file; environment variables override it")

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}

func newLogger(cfg config.Config) *slog.Logger {
	logger := logging.New(logging.Options{
		Service:    serviceName,
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	slog.SetDefault(logger)
	return logger
}

func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}
