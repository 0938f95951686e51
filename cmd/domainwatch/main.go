package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"domainwatch/internal/alert"
	"domainwatch/internal/api"
	"domainwatch/internal/checker"
	"domainwatch/internal/config"
	"domainwatch/internal/logging"
	"domainwatch/internal/notify"
	"domainwatch/internal/settings"
	"domainwatch/internal/storage"
	"domainwatch/internal/storage/postgres"
	"domainwatch/internal/storage/sqlite"
	"domainwatch/internal/uptime"
	"domainwatch/internal/urlutil"
)

func main() {
	cfg := config.Load()
	fs := pflag.NewFlagSet("domainwatch", pflag.ExitOnError)
	cfg.BindFlags(fs)
	fs.Parse(os.Args[1:])

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("application failed", zap.Error(err))
	}
	log.Info("application shut down gracefully")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Storer, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		return sqlite.New(ctx, cfg.DatabaseURL)
	case "postgres":
		return postgres.New(ctx, cfg.DatabaseURL)
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
}

func run(cfg *config.Config, log *zap.Logger) error {
	// Canceled on SIGINT or SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("opening database", zap.String("driver", cfg.DatabaseDriver))
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", cfg.DatabaseDriver, err)
	}
	defer store.Close()

	if cfg.SettingsFile != "" {
		values, err := settings.LoadFile(cfg.SettingsFile)
		if err != nil {
			return err
		}
		if err := store.PutSettings(ctx, values); err != nil {
			return fmt.Errorf("failed to seed settings: %w", err)
		}
		log.Info("settings seeded", zap.String("file", cfg.SettingsFile), zap.Int("keys", len(values)))
	}
	provider := settings.StoreProvider{Store: store}

	guard := urlutil.NewGuard()
	dispatcher := notify.NewDispatcher(provider, log.Named("notify"),
		notify.NewWebhookChannel(store, log, notify.WebhookOptions{Guard: guard}),
		notify.NewSlackChannel(nil, log),
		notify.NewSignalChannel(nil, log),
		notify.NewEmailChannel(log),
	)

	stats := uptime.NewService(store)
	tracker := alert.NewTracker(stats, provider, dispatcher, log.Named("alert"))
	if cfg.RestoreAlertState {
		endpoints, err := store.ListEndpoints(ctx)
		if err != nil {
			return fmt.Errorf("failed to list endpoints: %w", err)
		}
		n, err := tracker.Restore(ctx, endpoints)
		if err != nil {
			return fmt.Errorf("failed to restore alert state: %w", err)
		}
		log.Info("alert state restored", zap.Int("alerted", n))
	}

	monitor := checker.NewMonitor(store, checker.NewProber(cfg.ProbeTimeout), tracker, checker.Options{
		Delay:       cfg.ProbeDelay,
		Concurrency: cfg.ProbeConcurrency,
	}, log.Named("checker"))
	scheduler := checker.NewScheduler(monitor, provider, log.Named("scheduler"))
	sweeper := checker.NewSweeper(store, cfg.RetentionDays, cfg.RetentionTimeout, log.Named("retention"))

	handlers := api.NewHandlers(api.Deps{
		Store:     store,
		Uptime:    stats,
		Checker:   monitor,
		Scheduler: scheduler,
		Guard:     guard,
		Log:       log.Named("api"),
	})
	server := api.NewServer(cfg.HTTPPort, api.NewRouter(handlers, log.Named("http")), log)

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start retention sweeper: %w", err)
	}
	serverErr := server.Start()

	log.Info("application is running")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, starting graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	// No new passes or sweeps; in-flight probes finish on their own.
	scheduler.Stop()
	sweeper.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn("notifications still pending at shutdown", zap.Error(err))
	}
	return nil
}
