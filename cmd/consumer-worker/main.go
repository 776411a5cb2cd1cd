package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/campushub/campushub-backend/internal/consumers/audit"
	"github.com/campushub/campushub-backend/pkg/bus"
	"github.com/campushub/campushub-backend/pkg/config"
	"github.com/campushub/campushub-backend/pkg/db"
	"github.com/campushub/campushub-backend/pkg/logger"
	"github.com/campushub/campushub-backend/pkg/migrate"
	"github.com/campushub/campushub-backend/pkg/outbox/idempotency"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "consumer-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "consumer-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

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
		logg.Info(context.Background(), "message bus disabled, nothing to consume, exiting")
		return
	}

	ledger, err := idempotency.NewLedger(dbClient.DB())
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency ledger", err)
		os.Exit(1)
	}

	consumer, err := audit.NewConsumer(ledger, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create audit consumer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "consumer-worker",
	})

	if err := consumer.Start(ctx, busClient); err != nil {
		logg.Error(ctx, "failed to start audit consumer", err)
		os.Exit(1)
	}
	logg.Info(ctx, "audit consumer started")

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "consumer worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "consumer worker shutting down gracefully")
}
