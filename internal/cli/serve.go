package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/spf13/cobra"

	"ring0.store/fulfillment/fulfillment"
	"ring0.store/fulfillment/handlers"
	"ring0.store/fulfillment/internal/config"
	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/internal/version"
	"ring0.store/fulfillment/providers"
	"ring0.store/fulfillment/storage"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	var skipMigrations bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and license HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, !skipMigrations)
		},
	}
	cmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations on start")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          version.Version,
		TracesSampleRate: 1.0,
	}); err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	defer sentry.Flush(2 * time.Second)

	if migrate {
		if err := storage.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
	}
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	dispatcher, release, err := newDispatcher(&cfg.Fulfillment, store)
	if err != nil {
		return err
	}
	defer release()

	service := fulfillment.NewService(store, fulfillment.NewAllocator(cfg.FallbackKeyPrefix), dispatcher)

	registry, err := providers.Registry(cfg.Providers(), cfg.WebhookSecret)
	if err != nil {
		return err
	}

	server := handlers.NewHttpServer(store, service, registry, handlers.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRequests:  cfg.RateLimitRequests,
		RateLimitWindow:    cfg.RateLimitWindow,
	})

	stopPruning := make(chan struct{})
	defer close(stopPruning)
	pruneEvery := cfg.RateLimitWindow
	if pruneEvery <= 0 {
		pruneEvery = time.Minute
	}
	server.Limiter.StartPruning(pruneEvery, stopPruning)

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           sentryHandler.Handle(server),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Fulfillment service starting", map[string]interface{}{
			"version":     version.Version,
			"port":        cfg.Port,
			"environment": cfg.Environment,
			"providers":   cfg.Providers(),
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down, draining in-flight requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
