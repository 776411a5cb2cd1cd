package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/campushub/campushub-backend/api/responses"
	"github.com/campushub/campushub-backend/pkg/config"
	"github.com/campushub/campushub-backend/pkg/db"
	pkgerrors "github.com/campushub/campushub-backend/pkg/errors"
	"github.com/campushub/campushub-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CampusHub-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the hard dependencies. Nil pingers are skipped so the
// endpoint degrades gracefully in partial deployments.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP db.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CampusHub-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		checks["database"] = pingStatus(ctx, dbP, &healthy)
		checks["redis"] = pingStatus(ctx, redisP, &healthy)

		if !healthy {
			err := pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(checks)
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}

func pingStatus(ctx context.Context, p db.Pinger, healthy *bool) string {
	if p == nil {
		return "skipped"
	}
	if err := p.Ping(ctx); err != nil {
		*healthy = false
		return "down"
	}
	return "up"
}
