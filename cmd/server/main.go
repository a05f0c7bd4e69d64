package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/importer/internal/config"
	"github.com/JonMunkholm/importer/internal/core"
	_ "github.com/JonMunkholm/importer/internal/core/entities" // Register all entities
	"github.com/JonMunkholm/importer/internal/logging"
	"github.com/JonMunkholm/importer/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"max_concurrent_jobs", cfg.Import.MaxConcurrentJobs,
		"session_ttl", cfg.Import.SessionTTL.String(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	logger.Info("entities registered", "count", core.EntityCount(), "stores", len(stores))

	service := core.NewService(core.NewMemoryRegistry(), stores, core.ServiceConfig{
		SessionTTL:        cfg.Import.SessionTTL,
		PreviewLimit:      cfg.Import.PreviewLimit,
		MaxFileSize:       cfg.Import.MaxFileSize,
		MaxConcurrentJobs: cfg.Import.MaxConcurrentJobs,
		MaxWaitTime:       cfg.Import.MaxWaitTime,
		JobTimeout:        cfg.Import.JobTimeout,
		JobRetention:      cfg.Import.JobRetention,
		SweepInterval:     cfg.Import.SweepInterval,
	}, logger)

	server := web.NewServer(service, cfg, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		service.StartSweeper(gctx)
		return nil
	})

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}

		status := service.LimiterStatus()
		if status.Active > 0 {
			logger.Info("cancelling running import jobs", "active", status.Active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Warn("import jobs did not stop in time", "error", err)
		}
		return nil
	})

	return g.Wait()
}
