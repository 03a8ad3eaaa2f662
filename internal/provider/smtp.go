package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// SMTP relays messages to an upstream SMTP server.
type SMTP struct {
	host     string
	port     int
	username string
	password string
	startTLS bool
	timeout  time.Duration
	now      func() time.Time
}

// NewSMTP creates an SMTP relay provider from the given configuration.
func NewSMTP(cfg ProviderConfig) *SMTP {
	return &SMTP{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		startTLS: cfg.StartTLS,
		timeout:  cfg.Timeout,
		now:      time.Now,
	}
}

func (s *SMTP) GetName() string { return "smtp" }

func (s *SMTP) addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// dial connects, upgrades to TLS when configured and authenticates when
// credentials are present.
func (s *SMTP) dial() (*gosmtp.Client, error) {
	var (
		c   *gosmtp.Client
		err error
	)
	if s.startTLS {
		// Fails when the server does not advertise STARTTLS.
		c, err = gosmtp.DialStartTLS(s.addr(), &tls.Config{ServerName: s.host})
	} else {
		c, err = gosmtp.Dial(s.addr())
	}
	if err != nil {
		return nil, err
	}
	if s.timeout > 0 {
		c.CommandTimeout = s.timeout
		c.SubmissionTimeout = s.timeout
	}

	if s.username != "" && s.password != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.username, s.password)); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Send submits the message to every To, Cc and Bcc recipient.
func (s *SMTP) Send(ctx context.Context, msg *mq.Message) (*DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := s.dial()
	if err != nil {
		return nil, ClassifySMTPError(s.GetName(), err)
	}
	defer c.Close()

	body := BuildMIME(msg, s.now())
	if err := c.SendMail(msg.FromEmail, msg.Recipients(), bytes.NewReader(body)); err != nil {
		return nil, ClassifySMTPError(s.GetName(), err)
	}
	if err := c.Quit(); err != nil {
		return nil, ClassifySMTPError(s.GetName(), err)
	}

	return &DeliveryResult{
		ProviderMessageID: fmt.Sprintf("<%s@mailqueue>", msg.ID),
		Timestamp:         s.now(),
		Metadata:          map[string]string{"relay": s.addr()},
	}, nil
}

// HealthCheck opens and closes a session with the relay.
func (s *SMTP) HealthCheck(_ context.Context) error {
	c, err := s.dial()
	if err != nil {
		return fmt.Errorf("smtp: health check: %w", err)
	}
	defer c.Close()
	return c.Quit()
}
