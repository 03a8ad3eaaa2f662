package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/sungwon/mailqueue/internal/auth"
	"github.com/sungwon/mailqueue/internal/bootstrap"
	"github.com/sungwon/mailqueue/internal/config"
	"github.com/sungwon/mailqueue/internal/logger"
	smtpserver "github.com/sungwon/mailqueue/internal/smtp"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(cfg.Logging)
	log.Info().Msg("starting SMTP server")

	ctx := context.Background()
	app, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer app.Close()

	engine, _, err := app.ProducerEngine(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create delivery engine")
	}

	users, err := auth.NewSMTPUsers(cfg.Auth.SMTPUsers)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid smtp users")
	}
	if users.Len() == 0 {
		log.Warn().Msg("no smtp users configured; every AUTH attempt will fail")
	}

	// Lockout needs Redis; without it the limiter allows every attempt.
	limiter := auth.NewRateLimiter(app.Redis, cfg.Auth.RateLimit)

	backend, err := smtpserver.NewBackend(engine, users, limiter, log, smtpserver.BackendConfig{
		MaxConns:             cfg.SMTP.MaxConnections,
		AllowedSenderDomains: cfg.SMTP.AllowedSenderDomains,
		Hostname:             cfg.SMTP.Domain,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create SMTP backend")
	}

	s := gosmtp.NewServer(backend)
	s.Addr = fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port)
	s.Domain = cfg.SMTP.Domain
	s.ReadTimeout = cfg.SMTP.ReadTimeout
	s.WriteTimeout = cfg.SMTP.WriteTimeout
	s.MaxMessageBytes = cfg.SMTP.MaxMessageSize
	s.MaxRecipients = cfg.SMTP.MaxRecipients
	s.AllowInsecureAuth = cfg.SMTP.AllowInsecureAuth
	s.EnableSMTPUTF8 = true

	if cfg.SMTP.TLSCertFile != "" && cfg.SMTP.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.SMTP.TLSCertFile, cfg.SMTP.TLSKeyFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load TLS certificate")
		}
		s.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		log.Info().Msg("TLS: STARTTLS enabled")
	} else if !cfg.SMTP.AllowInsecureAuth {
		log.Warn().Msg("TLS is not configured and insecure auth is off; clients cannot authenticate")
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", s.Addr).Msg("failed to listen")
	}

	go func() {
		log.Info().Str("addr", s.Addr).Str("queue", cfg.Queue.Type).Msg("SMTP server listening")
		if err := s.Serve(ln); err != nil {
			log.Error().Err(err).Msg("SMTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Int64("active_sessions", backend.ActiveSessions()).Msg("shutting down SMTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("SMTP server shutdown error")
	}

	log.Info().Msg("SMTP server stopped")
}
