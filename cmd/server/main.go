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

	"github.com/rs/zerolog"

	"rtchat/backend/internal/auth"
	"rtchat/backend/internal/cache"
	"rtchat/backend/internal/config"
	"rtchat/backend/internal/handlers"
	"rtchat/backend/internal/identity"
	"rtchat/backend/internal/logging"
	"rtchat/backend/internal/metrics"
	"rtchat/backend/internal/middleware"
	"rtchat/backend/internal/presence"
	"rtchat/backend/internal/realtime"
	"rtchat/backend/internal/relay"
	"rtchat/backend/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped with error.")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m := metrics.New()
	identityCache, err := cache.New(cfg.CacheSizeLimit, cache.WithLogger(logger))
	if err != nil {
		return err
	}
	gateway, err := identity.NewGateway(identity.Config{
		BaseAddress:          cfg.Management.BaseAddress,
		TokenEndpoint:        cfg.Management.TokenEndpoint,
		Audience:             cfg.Management.Audience,
		ClientID:             cfg.Management.ClientID,
		ClientSecret:         cfg.Management.ClientSecret,
		UsersByIDEndpoint:    cfg.Management.UsersByIDEndpoint,
		UsersByEmailEndpoint: cfg.Management.UsersByEmailEndpoint,
		Timeout:              cfg.IdentityTimeout,
	}, nil, logger)
	if err != nil {
		return err
	}

	opts := []presence.Option{presence.WithMetrics(m), presence.WithFetchTimeout(cfg.IdentityTimeout)}
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		mirror, err := cache.NewRedisMirror(ctx, cfg.RedisURL, cfg.ProfileMirrorTTL, logger)
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer mirror.Close()
		opts = append(opts, presence.WithMirror(mirror))
	}
	registry := presence.NewRegistry(identityCache, gateway, logger, opts...)

	var validator *auth.Validator
	if cfg.Auth0Domain != "" {
		validator, err = auth.NewJWKSValidator(cfg.Auth0Domain, cfg.Auth0Audience, logger)
	} else {
		logger.Warn().Msg("AUTH0_DOMAIN not set, validating tokens with JWT_SECRET.")
		validator, err = auth.NewHMACValidator(cfg.JWTSecret, "", cfg.Auth0Audience)
	}
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	defer validator.Close()

	hub := realtime.NewHub(logger, m)
	api := handlers.NewAPI(cfg.Summary(), hub, relay.New(registry, hub, logger),
		realtime.NewUpgrader(cfg.CORSAllowedOrigins), registry, logger)
	handler := router.New(router.Options{
		API:            api,
		Auth:           validator,
		Limiter:        middleware.NewRateLimiter(cfg.HubRateLimit, time.Minute),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        m.Handler(),
		Logger:         logger,
		TrustProxy:     cfg.TrustProxyHeaders,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server listening.")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown error.")
	}
	return nil
}
