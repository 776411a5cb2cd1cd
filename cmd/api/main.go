package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/campushub/campushub-backend/api/routes"
	"github.com/campushub/campushub-backend/internal/auth"
	"github.com/campushub/campushub-backend/internal/events"
	"github.com/campushub/campushub-backend/internal/registrations"
	"github.com/campushub/campushub-backend/internal/users"
	"github.com/campushub/campushub-backend/pkg/auth/session"
	"github.com/campushub/campushub-backend/pkg/config"
	"github.com/campushub/campushub-backend/pkg/db"
	"github.com/campushub/campushub-backend/pkg/logger"
	"github.com/campushub/campushub-backend/pkg/migrate"
	"github.com/campushub/campushub-backend/pkg/outbox"
	"github.com/campushub/campushub-backend/pkg/redis"
	"github.com/campushub/campushub-backend/pkg/saga"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	authService, err := auth.NewService(auth.ServiceParams{
		DB:             dbClient,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	eventsService, err := events.NewService(events.ServiceParams{
		DB:     dbClient,
		Outbox: outboxService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create events service", err)
		os.Exit(1)
	}

	regsService, err := registrations.NewService(registrations.ServiceParams{
		DB:     dbClient,
		Outbox: outboxService,
		Saga:   saga.NewExecutor(logg),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create registrations service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DBPinger:      dbClient,
			Redis:         redisClient,
			AuthService:   authService,
			EventsService: eventsService,
			RegsService:   regsService,
			UsersRepo:     users.NewRepository(dbClient.DB()),
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
