package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/campushub/campushub-backend/api/controllers"
	"github.com/campushub/campushub-backend/api/middleware"
	"github.com/campushub/campushub-backend/internal/auth"
	"github.com/campushub/campushub-backend/internal/events"
	"github.com/campushub/campushub-backend/internal/registrations"
	"github.com/campushub/campushub-backend/internal/users"
	"github.com/campushub/campushub-backend/pkg/config"
	"github.com/campushub/campushub-backend/pkg/db"
	"github.com/campushub/campushub-backend/pkg/enums"
	"github.com/campushub/campushub-backend/pkg/logger"
	"github.com/campushub/campushub-backend/pkg/redis"
)

type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DBPinger      db.Pinger
	Redis         *redis.Client
	AuthService   auth.Service
	EventsService events.Service
	RegsService   registrations.Service
	UsersRepo     *users.Repository
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.RateLimit.LoginWindow,
		cfg.RateLimit.LoginIPLimit,
		cfg.RateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.RateLimit.RegisterWindow,
		cfg.RateLimit.RegisterIPLimit,
		cfg.RateLimit.RegisterEmailLimit,
	)

	var redisPinger db.Pinger
	if p.Redis != nil {
		redisPinger = p.Redis
	}

	authLimit := func(policy middleware.AuthRateLimitPolicy) func(http.Handler) http.Handler {
		if p.Redis == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return middleware.AuthRateLimit(policy, p.Redis, logg)
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DBPinger, redisPinger))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(authLimit(registerPolicy)).
			Post("/register", controllers.AuthRegister(p.AuthService, logg))
		r.With(authLimit(loginPolicy)).
			Post("/login", controllers.AuthLogin(p.AuthService, logg))
		r.Post("/refresh", controllers.AuthRefresh(p.AuthService, logg))
		r.With(middleware.Auth(cfg.JWT, logg)).
			Post("/logout", controllers.AuthLogout(p.AuthService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Get("/users/me", controllers.UserMe(p.UsersRepo, logg))

		r.Route("/events", func(r chi.Router) {
			r.Get("/", controllers.EventList(p.EventsService, logg))
			r.Get("/{eventId}", controllers.EventGet(p.EventsService, logg))
			r.Post("/{eventId}/registrations", controllers.RegistrationCreate(p.RegsService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, string(enums.RoleOrganizer), string(enums.RoleAdmin)))
				r.Post("/", controllers.EventCreate(p.EventsService, logg))
				r.Patch("/{eventId}", controllers.EventUpdate(p.EventsService, logg))
				r.Delete("/{eventId}", controllers.EventDelete(p.EventsService, logg))
			})
		})

		r.Route("/registrations", func(r chi.Router) {
			r.Get("/mine", controllers.RegistrationListMine(p.RegsService, logg))
			r.Post("/{registrationId}/cancel", controllers.RegistrationCancel(p.RegsService, logg))
			r.With(middleware.RequireRole(logg, string(enums.RoleOrganizer), string(enums.RoleAdmin))).
				Post("/check-in", controllers.RegistrationCheckIn(p.RegsService, logg))
		})
	})

	return r
}
