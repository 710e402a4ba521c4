package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"fleet-feeder/internal/config"
	"fleet-feeder/internal/engine"
	"fleet-feeder/internal/feed"
	"fleet-feeder/internal/geotab"
	"fleet-feeder/internal/health"
	"fleet-feeder/internal/observability"
	"fleet-feeder/internal/snapshot"
	"fleet-feeder/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load("feeder", os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "feeder:", err)
		return 2
	}
	logger := observability.NewLogger(cfg.LogLevel).With("run_id", uuid.NewString(), "variant", "feed")

	if err := config.TerminalPrompter().Complete(&cfg); err != nil {
		logger.Error("credentials", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *http.Server
	if cfg.MetricsPort != "" {
		metrics = observability.NewMetricsServer(cfg.MetricsPort)
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	var hs *health.Server
	if cfg.HealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.HealthAddr)
		if err != nil {
			logger.Error("health listen failed", "addr", cfg.HealthAddr, "error", err)
			return 1
		}
		hs = health.New(logger)
		go func() {
			if err := hs.Serve(lis); err != nil {
				logger.Error("health server failed", "error", err)
			}
		}()
	}

	defer func() {
		if hs != nil {
			hs.Stop()
		}
		if metrics != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.Shutdown(shutdownCtx)
		}
	}()

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

	var opts []engine.Option
	if cfg.RedisAddr != "" {
		mirror, err := store.NewRedisMirror(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Warn("redis mirror disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer mirror.Close()
			opts = append(opts, engine.WithMirror(mirror))
		}
	}
	eng := engine.New(store.NewCSV(afero.NewOsFs(), cfg.StorePath), logger, opts...)

	start := time.Now()
	rows, err := snapshot.Seed(ctx, snapshot.NewFetcher(client, logger), eng)
	if err != nil {
		logger.Error("seeding failed", "store", cfg.StorePath, "error", err)
		return 1
	}
	logger.Info("store seeded", "store", cfg.StorePath, "vehicles", len(rows), "took", time.Since(start).String())

	if hs != nil {
		hs.SetServing(true)
	}
	feed.NewSubscriber(cfg.Interval, logger).Run(ctx, feed.Subscriptions(client, eng, logger, start)...)

	logger.Info("shutting down", "reason", context.Cause(ctx))
	return 0
}
