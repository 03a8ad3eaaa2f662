package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sungwon/mailqueue/internal/api"
	"github.com/sungwon/mailqueue/internal/auth"
	"github.com/sungwon/mailqueue/internal/bootstrap"
	"github.com/sungwon/mailqueue/internal/config"
	"github.com/sungwon/mailqueue/internal/logger"
	"github.com/sungwon/mailqueue/internal/suppression"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(cfg.Logging)
	log.Info().Msg("starting API server")

	ctx := context.Background()
	app, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer app.Close()

	if err := bootstrap.SeedTemplates(ctx, app.Templates, cfg.Templates.Dir, cfg.Templates.MaxBytes, log); err != nil {
		log.Fatal().Err(err).Msg("failed to seed templates")
	}

	engine, q, err := app.ProducerEngine(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create delivery engine")
	}

	if cfg.Auth.JWT.SigningKey == "" || cfg.Auth.JWT.SigningKey == "change-me-in-production" {
		log.Warn().Msg("JWT signing key is not set or using default value; set MAILQUEUE_AUTH_JWT_SIGNING_KEY in production")
	}
	if cfg.Auth.WebhookSecret == "" {
		log.Warn().Msg("webhook secret is empty; provider webhooks are accepted unauthenticated")
	}

	var rateLimiter *auth.RateLimiter
	if app.Redis != nil {
		rateLimiter = auth.NewRateLimiter(app.Redis, cfg.Auth.RateLimit)
		log.Info().Int("requests_per_minute", cfg.Auth.RateLimit.RequestsPerMinute).Msg("rate limiter enabled")
	}

	deps := api.Deps{
		Messages:      engine,
		Templates:     app.Templates,
		Suppressions:  suppression.NewService(app.Suppressions),
		DB:            app.DB,
		JWT:           auth.NewJWTService(cfg.Auth.JWT),
		RateLimiter:   rateLimiter,
		Health:        app.Health,
		WebhookSecret: cfg.Auth.WebhookSecret,
		CORSOrigins:   cfg.API.CORSOrigins,
		Log:           log,
	}
	if q != nil {
		deps.DLQ = q.DLQ
	}
	router := api.NewRouter(deps)

	app.Health.Start()
	defer app.Health.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Str("queue", cfg.Queue.Type).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
