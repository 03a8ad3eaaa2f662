// Package smtp accepts authenticated SMTP submissions and stores each DATA
// payload as a raw message for queued delivery.
package smtp

import (
	"context"
	"fmt"
	"sync/atomic"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/delivery"
	"github.com/sungwon/mailqueue/internal/logger"
	mq "github.com/sungwon/mailqueue/internal/mail"
)

// Enqueuer stores a submitted message.
type Enqueuer interface {
	EnqueueRaw(ctx context.Context, req delivery.RawRequest) (*mq.Message, error)
}

// Authenticator verifies submission credentials.
type Authenticator interface {
	Authenticate(username, password string) error
}

// LoginLimiter locks out usernames after repeated failed logins.
type LoginLimiter interface {
	CheckLoginRateLimit(ctx context.Context, username string) error
	RecordFailedLogin(ctx context.Context, username string) error
	ClearFailedLogins(ctx context.Context, username string) error
}

// BackendConfig tunes the ingress.
type BackendConfig struct {
	MaxConns int
	// AllowedSenderDomains restricts MAIL FROM. Empty allows every domain.
	AllowedSenderDomains []string
	// Hostname is used for generated Message-IDs.
	Hostname string
}

// Backend implements the go-smtp Backend interface.
// It manages session creation and enforces connection limits.
type Backend struct {
	engine  Enqueuer
	users   Authenticator
	limiter LoginLimiter
	log     zerolog.Logger
	cfg     BackendConfig
	active  atomic.Int64
}

// NewBackend creates an SMTP backend. limiter may be nil.
func NewBackend(engine Enqueuer, users Authenticator, limiter LoginLimiter, log zerolog.Logger, cfg BackendConfig) (*Backend, error) {
	for _, d := range cfg.AllowedSenderDomains {
		if !IsValidDomain(d) {
			return nil, fmt.Errorf("invalid allowed sender domain %q", d)
		}
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 100
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "mailqueue.local"
	}
	return &Backend{
		engine:  engine,
		users:   users,
		limiter: limiter,
		log:     log,
		cfg:     cfg,
	}, nil
}

// NewSession is called after a client sends EHLO/HELO. It enforces connection
// limits and creates a new Session for the connection.
func (b *Backend) NewSession(conn *gosmtp.Conn) (gosmtp.Session, error) {
	current := b.active.Add(1)
	if int(current) > b.cfg.MaxConns {
		b.active.Add(-1)
		b.log.Warn().
			Int64("active", current-1).
			Int("max", b.cfg.MaxConns).
			Msg("connection limit reached")
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "Too many connections",
		}
	}

	correlationID := logger.NewCorrelationID()
	ctx := logger.WithCorrelationID(context.Background(), correlationID)

	remote := ""
	if conn != nil && conn.Conn() != nil {
		remote = conn.Conn().RemoteAddr().String()
	}
	sessionLog := b.log.With().
		Str("correlation_id", correlationID).
		Str("remote_addr", remote).
		Logger()
	sessionLog.Info().Msg("new SMTP session")

	return b.newSession(logger.WithLogger(ctx, sessionLog), sessionLog), nil
}

func (b *Backend) newSession(ctx context.Context, log zerolog.Logger) *Session {
	return &Session{ctx: ctx, log: log, backend: b}
}

// ActiveSessions returns the current number of active SMTP sessions.
func (b *Backend) ActiveSessions() int64 {
	return b.active.Load()
}
