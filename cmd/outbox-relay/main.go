package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campushub/campushub-backend/pkg/bus"
	"github.com/campushub/campushub-backend/pkg/config"
	"github.com/campushub/campushub-backend/pkg/db"
	"github.com/campushub/campushub-backend/pkg/logger"
	"github.com/campushub/campushub-backend/pkg/metrics"
	"github.com/campushub/campushub-backend/pkg/migrate"
	"github.com/campushub/campushub-backend/pkg/outbox"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "outbox-relay"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "outbox-relay",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if !cfg.Outbox.RelayEnabled {
		logg.Info(context.Background(), "outbox relay disabled, exiting")
		return
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	busClient, err := bus.New(context.Background(), cfg.Bus, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap message bus", err)
		os.Exit(1)
	}
	defer func() {
		if err := busClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing message bus", err)
		}
	}()

	if !busClient.Enabled() {
		logg.Info(context.Background(), "message bus disabled, outbox relay has nothing to publish to, exiting")
		return
	}

	registry := prometheus.NewRegistry()
	relayMetrics := metrics.NewRelayMetrics(registry)
	go serveMetrics(logg, registry)

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
		Bus:        busClient,
		Metrics:    relayMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox relay", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "outbox-relay",
	})
	logg.Info(ctx, "starting outbox relay")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox relay stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "outbox relay shutting down gracefully")
}

func serveMetrics(logg *logger.Logger, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(":9091", mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(context.Background(), "metrics server stopped", err)
	}
}
