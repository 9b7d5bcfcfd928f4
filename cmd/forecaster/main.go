// Package main implements the demandcast forecaster service.
// The forecaster trains candidate models on daily demand series, keeps the
// best one, and serves forecasts over HTTP and gRPC. With a data source
// configured it also retrains and refreshes a forecast snapshot on a schedule.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/HatiCode/demandcast/cmd/forecaster/config"
	"github.com/HatiCode/demandcast/cmd/forecaster/logger"
	"github.com/HatiCode/demandcast/cmd/forecaster/metrics"
	"github.com/HatiCode/demandcast/cmd/forecaster/models"
	"github.com/HatiCode/demandcast/cmd/forecaster/router"
	"github.com/HatiCode/demandcast/cmd/forecaster/server"
	"github.com/HatiCode/demandcast/cmd/forecaster/store"
	"github.com/HatiCode/demandcast/pkg/adapters"
	"github.com/HatiCode/demandcast/pkg/httpx"
)

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting demandcast forecaster",
		"version", "v0.1.0",
		"series", cfg.Series,
		"source", cfg.Source,
		"storage", cfg.Storage,
	)

	stores := store.New(cfg, logger)
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}()

	m := metrics.New(cfg.Series)
	svc := New(
		cfg.Series,
		newAdapter(cfg),
		stores.Models,
		stores.Snapshots,
		models.New(cfg, logger),
		cfg.HorizonDays,
		cfg.Window,
		m,
		logger,
	)

	var limiter *rate.Limiter
	if cfg.TrainPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.TrainPerMinute/60), max(1, int(cfg.TrainPerMinute)))
	}
	handler := router.SetupRoutes(svc, svc, router.Options{
		StaleAfter:    2 * cfg.Interval, // Snapshot is stale if older than 2x the interval
		DefaultSeries: cfg.Series,
		TrainLimiter:  limiter,
		Ready:         stores.Ready,
	}, logger)
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Source != "none" {
		go func() {
			if err := svc.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("forecast loop failed", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start()
	}()

	grpcServer, healthServer := server.New(svc, m, logger)
	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			logger.Error("failed to listen", "address", cfg.GRPCListen, "error", err)
			os.Exit(1)
		}
		go func() {
			logger.Info("grpc server listening", "address", cfg.GRPCListen)
			serverErr <- grpcServer.Serve(lis)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	healthServer.Shutdown()
	grpcServer.GracefulStop()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// newAdapter returns the scheduled data source, or nil when none is configured.
func newAdapter(cfg *config.Config) adapters.Adapter {
	switch cfg.Source {
	case "csv":
		return &adapters.CSVAdapter{
			Path:        cfg.CSVPath,
			DateColumn:  cfg.DateColumn,
			ValueColumn: cfg.ValueColumn,
			Filters:     cfg.Filters,
		}
	case "prometheus":
		return &adapters.PrometheusAdapter{
			ServerURL: cfg.PromURL,
			Query:     cfg.PromQuery,
		}
	default:
		return nil
	}
}
