package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/rotavault/internal/adapter/driven/provider"
	sqliteadapter "github.com/ericfisherdev/rotavault/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/rotavault/internal/adapter/driving/http"
	"github.com/ericfisherdev/rotavault/internal/application"
	"github.com/ericfisherdev/rotavault/internal/config"
	"github.com/ericfisherdev/rotavault/internal/domain/port/driven"
)

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and rotation scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), c.cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"key_source", cfg.KeySource,
		"provider_configured", cfg.HasProvider(),
		"retry_max_attempts", cfg.RetryMaxAttempts,
	)

	// 1. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Load the master key. A bad key aborts startup.
	v, err := openVault(cfg)
	if err != nil {
		return err
	}
	slog.Info("vault opened", "source", describeKeySource(cfg))

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		return err
	}
	slog.Info("migrations complete", "schema_version", version)

	// 5. Wire adapters.
	clk := clockwork.NewRealClock()
	store := sqliteadapter.NewAccountRepo(db, v, clk)

	accountProvider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := application.NewMetrics(reg)

	// 6. Create the account service and rebuild timers.
	svc := application.NewAccountService(store, accountProvider, clk, metrics, slog.Default(), application.ServiceOptions{
		DefaultIntervalHours: cfg.DefaultIntervalHours,
		Workflow: application.WorkflowOptions{
			PasswordLength:       cfg.PasswordLength,
			ProviderTimeout:      cfg.ProviderTimeout,
			RetryMaxAttempts:     cfg.RetryMaxAttempts,
			RetryInitialInterval: cfg.RetryInitialInterval,
			RetryMaxInterval:     cfg.RetryMaxInterval,
		},
	})

	if _, err := svc.Restore(ctx); err != nil {
		svc.Close()
		return err
	}

	// 7. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(svc, slog.Default())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, reg, slog.Default()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.ProviderTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("rotavault started", "listen_addr", cfg.ListenAddr, "armed_timers", svc.Scheduler().Len())

	// 8. Wait for shutdown signal or a listener failure.
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	// 9. Graceful shutdown: drain HTTP, then stop timers and wait for
	// rotations already talking to the provider.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	svc.Close()

	slog.Info("shutdown complete")
	return nil
}

func newProvider(cfg *config.Config) (driven.AccountProvider, error) {
	if !cfg.HasProvider() {
		slog.Warn("no provider bridge configured, password rotation disabled")
		return provider.Disabled{}, nil
	}

	client, err := provider.NewClient(cfg.ProviderURL, cfg.ProviderToken, cfg.ProviderTimeout)
	if err != nil {
		return nil, err
	}
	slog.Info("provider bridge configured", "url", cfg.ProviderURL)
	return client, nil
}
