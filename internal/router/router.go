package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"rtchat/backend/internal/handlers"
	"rtchat/backend/internal/middleware"
)

const HubPath = "/hub/chat"

type Options struct {
	API            *handlers.API
	Auth           middleware.TokenParser
	Limiter        *middleware.RateLimiter
	AllowedOrigins []string
	Metrics        http.Handler
	Logger         zerolog.Logger
	// TrustProxy takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxy bool
}

func New(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	if opts.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(opts.AllowedOrigins))
	r.Use(middleware.SecurityHeaders)

	r.Get("/", opts.API.Home)
	r.Get("/healthz", opts.API.Healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Middleware)
		}
		r.Use(middleware.RequireUser(opts.Auth, opts.Logger))
		r.Get(HubPath, opts.API.ChatHub)
	})
	return r
}
