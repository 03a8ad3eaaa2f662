package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/mail"
	"slices"
	"strings"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/auth"
	"github.com/sungwon/mailqueue/internal/delivery"
	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/mimeparse"
)

var (
	errAuthRequired = &gosmtp.SMTPError{
		Code:         530,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
		Message:      "Authentication required",
	}
	errAuthFailed = &gosmtp.SMTPError{
		Code:         535,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication failed",
	}
	errLockedOut = &gosmtp.SMTPError{
		Code:         454,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "Too many failed logins, try again later",
	}
	errQueueFailed = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "Error queuing message",
	}
)

// Session handles a single SMTP connection and implements the go-smtp
// Session and AuthSession interfaces.
type Session struct {
	ctx           context.Context
	log           zerolog.Logger
	backend       *Backend
	username      string
	authenticated bool
	sender        string
	recipients    []string
}

// AuthMechanisms advertises AUTH PLAIN only.
func (s *Session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

// Auth starts a SASL exchange for mech.
func (s *Session) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			return errAuthFailed
		}
		return s.authPlain(username, password)
	}), nil
}

func (s *Session) authPlain(username, password string) error {
	limiter := s.backend.limiter
	if limiter != nil {
		if err := limiter.CheckLoginRateLimit(s.ctx, username); err != nil {
			if errors.Is(err, auth.ErrLockedOut) {
				s.log.Warn().Str("username", username).Msg("auth refused: locked out")
				return errLockedOut
			}
			s.log.Error().Err(err).Msg("login rate limit check failed")
		}
	}

	if err := s.backend.users.Authenticate(username, password); err != nil {
		s.log.Warn().Str("username", username).Msg("auth failed")
		if limiter != nil {
			if err := limiter.RecordFailedLogin(s.ctx, username); err != nil {
				s.log.Error().Err(err).Msg("record failed login")
			}
		}
		return errAuthFailed
	}

	if limiter != nil {
		if err := limiter.ClearFailedLogins(s.ctx, username); err != nil {
			s.log.Error().Err(err).Msg("clear failed logins")
		}
	}
	s.username = username
	s.authenticated = true
	s.log = s.log.With().Str("username", username).Logger()
	s.log.Info().Msg("auth successful")
	return nil
}

// Mail handles MAIL FROM. The sender domain must be allowed.
func (s *Session) Mail(from string, opts *gosmtp.MailOptions) error {
	if !s.authenticated {
		return errAuthRequired
	}

	addr, err := mail.ParseAddress(from)
	if err != nil {
		s.log.Warn().Str("from", from).Msg("invalid sender address format")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 7},
			Message:      "Invalid sender address",
		}
	}

	domain := ExtractDomain(addr.Address)
	if !domainAllowed(s.backend.cfg.AllowedSenderDomains, domain) {
		s.log.Warn().Str("from", from).Str("domain", domain).Msg("sender domain not allowed")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "Sender domain not allowed",
		}
	}

	s.sender = addr.Address
	return nil
}

// Rcpt handles RCPT TO.
func (s *Session) Rcpt(to string, opts *gosmtp.RcptOptions) error {
	if !s.authenticated {
		return errAuthRequired
	}

	addr, err := mail.ParseAddress(to)
	if err != nil {
		s.log.Warn().Str("to", to).Msg("invalid recipient address format")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "Invalid recipient address",
		}
	}

	s.recipients = append(s.recipients, addr.Address)
	return nil
}

// Data reads the message, splits it into subject and bodies and stores it
// with EnqueueRaw. The Message-ID, generated when absent, scoped by the
// authenticated user is the idempotency key, so a client retrying after a
// lost reply does not create a second message. Bodies are never logged.
func (s *Session) Data(r io.Reader) error {
	if !s.authenticated {
		return errAuthRequired
	}
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		s.log.Error().Err(err).Msg("failed to read message data")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "Error reading message",
		}
	}

	parsed, err := mimeparse.Parse(buf.Bytes())
	if err != nil {
		s.log.Warn().Err(err).Msg("unparseable message")
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "Malformed message",
		}
	}
	if len(parsed.Attachments) > 0 {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 1},
			Message:      "Attachments are not supported",
		}
	}

	messageID := parsed.MessageID
	if messageID == "" {
		messageID = uuid.NewString() + "@" + s.backend.cfg.Hostname
	}

	to, cc, bcc := splitRecipients(s.recipients, parsed.To, parsed.Cc)
	m, err := s.backend.engine.EnqueueRaw(s.ctx, delivery.RawRequest{
		To:             to,
		Cc:             cc,
		Bcc:            bcc,
		Subject:        parsed.Subject,
		HTML:           parsed.HTMLBody,
		Text:           parsed.TextBody,
		FromEmail:      s.sender,
		IdempotencyKey: "smtp:" + s.username + ":" + messageID,
	})
	if err != nil {
		if mq.IsClientError(err) {
			s.log.Warn().Err(err).Msg("message rejected")
			return &gosmtp.SMTPError{
				Code:         550,
				EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
				Message:      err.Error(),
			}
		}
		s.log.Error().Err(err).Msg("failed to enqueue message")
		return errQueueFailed
	}

	s.log.Info().
		Stringer("message_id", m.ID).
		Str("from", s.sender).
		Int("recipient_count", len(s.recipients)).
		Msg("message enqueued")
	return nil
}

// splitRecipients sorts envelope recipients into to, cc and bcc by the
// header they appear in. Envelope recipients named in neither header are
// blind copies. The to list is never left empty: visible cc recipients are
// promoted first, then blind copies.
func splitRecipients(envelope, headerTo, headerCc []string) (to, cc, bcc []string) {
	in := func(list []string, addr string) bool {
		return slices.ContainsFunc(list, func(a string) bool { return strings.EqualFold(a, addr) })
	}
	for _, rcpt := range envelope {
		switch {
		case in(headerTo, rcpt):
			to = append(to, rcpt)
		case in(headerCc, rcpt):
			cc = append(cc, rcpt)
		default:
			bcc = append(bcc, rcpt)
		}
	}
	switch {
	case len(to) > 0:
	case len(cc) > 0:
		to, cc = cc, nil
	default:
		to, bcc = bcc, nil
	}
	return to, cc, bcc
}

// Reset is called between messages in the same session. It clears the sender
// and recipients but preserves the authentication state.
func (s *Session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout is called when the client disconnects.
func (s *Session) Logout() error {
	s.backend.active.Add(-1)
	s.log.Info().Msg("session closed")
	return nil
}
