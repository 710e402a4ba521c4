package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"fleet-feeder/internal/config"
	"fleet-feeder/internal/geotab"
	"fleet-feeder/internal/observability"
	"fleet-feeder/internal/poller"
	"fleet-feeder/internal/snapshot"
	"fleet-feeder/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load("poller", os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "poller:", err)
		return 2
	}
	logger := observability.NewLogger(cfg.LogLevel).With("run_id", uuid.NewString(), "variant", "poll")

	if err := config.TerminalPrompter().Complete(&cfg); err != nil {
		logger.Error("credentials", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsPort != "" {
		metrics := observability.NewMetricsServer(cfg.MetricsPort)
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.Shutdown(shutdownCtx)
		}()
	}

	client := geotab.New(geotab.Options{
		Database: cfg.Database,
		UserName: cfg.User,
		Password: cfg.Password,
		Server:   cfg.Server,
		Logger:   logger,
	})
	if err := client.Authenticate(ctx); err != nil {
		logger.Error("authentication failed", "database", cfg.Database, "server", cfg.Server, "error", err)
		return 1
	}

	history, err := store.CreateNextHistory(afero.NewOsFs(), cfg.OutputDir, cfg.Prefix)
	if err != nil {
		logger.Error("create history file", "dir", cfg.OutputDir, "prefix", cfg.Prefix, "error", err)
		return 1
	}
	logger.Info("writing history", "path", history.Path(), "interval", cfg.Interval.String())

	poller.New(snapshot.NewFetcher(client, logger), history, cfg.Interval, logger).Run(ctx)

	logger.Info("shutting down", "reason", context.Cause(ctx))
	return 0
}
