package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"qms/frontdesk-service/internal/board"
	"qms/frontdesk-service/internal/config"
	"qms/frontdesk-service/internal/httpapi"
	"qms/frontdesk-service/internal/lifecycle"
	"qms/frontdesk-service/internal/printer"
	"qms/frontdesk-service/internal/store"
	"qms/frontdesk-service/internal/store/memory"
	"qms/frontdesk-service/internal/store/postgres"
	"qms/frontdesk-service/internal/telemetry"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const boardPrefix = "/board"

func newServeCommand() *cobra.Command {
	var shutdownTimeout time.Duration
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the front-desk HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTelemetry := telemetry.Setup(serviceName, telemetry.Options{
				Endpoint: cfg.OTLPEndpoint,
				Insecure: cfg.OTLPInsecure,
			}, logger)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTelemetry(ctx)
			}()

			ticketStore, closeStore, err := openStore(ctx, cfg, autoMigrate, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			engine, hub, err := buildEngine(cfg, ticketStore, logger)
			if err != nil {
				return err
			}

			server := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           buildHandler(cfg, engine, hub, logger),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       10 * time.Second,
				// No WriteTimeout: board streams stay open.
				IdleTimeout: 60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("frontdesk-service listening", "addr", server.Addr, "store", cfg.StoreDriver)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown error", "error", err)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "Maximum time to wait for graceful shutdown")
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply pending migrations before serving")

	return cmd
}

func openStore(ctx context.Context, cfg config.Config, autoMigrate bool, logger *slog.Logger) (store.TicketStore, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using the in-memory store; tickets are lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	pool, err := openPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if autoMigrate {
		applied, err := postgres.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "versions", applied)
		}
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func buildEngine(cfg config.Config, ticketStore store.TicketStore, logger *slog.Logger) (*lifecycle.Engine, *board.Hub, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	slip, err := printer.New("slip", printer.Options{
		Driver:   cfg.SlipPrinter,
		Addr:     cfg.SlipPrinterAddr,
		URL:      cfg.SlipPrinterURL,
		Token:    cfg.PrinterWebhookToken,
		Timeout:  cfg.PrintTimeout(),
		Location: loc,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	label, err := printer.New("label", printer.Options{
		Driver:   cfg.LabelPrinter,
		Addr:     cfg.LabelPrinterAddr,
		URL:      cfg.LabelPrinterURL,
		Token:    cfg.PrinterWebhookToken,
		Timeout:  cfg.PrintTimeout(),
		Location: loc,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}

	hub := board.New(logger)
	engine := lifecycle.New(lifecycle.Options{
		Store:        ticketStore,
		SlipPrinter:  slip,
		LabelPrinter: label,
		Publisher:    hub,
		Location:     loc,
		PhoneRegion:  cfg.PhoneRegion,
		Logger:       logger,
	})
	return engine, hub, nil
}

func buildHandler(cfg config.Config, engine *lifecycle.Engine, hub *board.Hub, logger *slog.Logger) http.Handler {
	mux := httpapi.NewHandler(engine).Routes()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle(boardPrefix+"/", board.Handler(boardPrefix, hub))

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	}, boardPrefix)

	return otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(mux)), serviceName)
}
