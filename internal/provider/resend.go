package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/resend/resend-go/v3"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// resendEmails is the part of the Resend client's Emails service we call.
type resendEmails interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Resend delivers through the Resend API.
type Resend struct {
	emails   resendEmails
	fromName string
	apiKey   string
}

// NewResend creates a Resend provider from the given configuration.
func NewResend(cfg ProviderConfig) *Resend {
	client := resend.NewClient(cfg.APIKey)
	return &Resend{
		emails:   client.Emails,
		fromName: cfg.FromName,
		apiKey:   cfg.APIKey,
	}
}

func (r *Resend) GetName() string { return "resend" }

func (r *Resend) buildRequest(msg *mq.Message) *resend.SendEmailRequest {
	from := msg.FromEmail
	if r.fromName != "" {
		from = fmt.Sprintf("%s <%s>", r.fromName, msg.FromEmail)
	}
	return &resend.SendEmailRequest{
		From:    from,
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Subject: msg.Subject,
		Html:    msg.HTMLBody,
		Text:    msg.TextBody,
		Headers: map[string]string{
			"X-Mailqueue-Message-ID": msg.ID.String(),
		},
	}
}

func (r *Resend) Send(ctx context.Context, msg *mq.Message) (*DeliveryResult, error) {
	resp, err := r.emails.SendWithContext(ctx, r.buildRequest(msg))
	if err != nil {
		return nil, &ProviderError{Provider: r.GetName(), Message: err.Error()}
	}
	return &DeliveryResult{
		ProviderMessageID: resp.Id,
		Timestamp:         time.Now(),
	}, nil
}

// HealthCheck only confirms an API key is configured.
func (r *Resend) HealthCheck(_ context.Context) error {
	if r.apiKey == "" {
		return fmt.Errorf("resend: api key not configured")
	}
	return nil
}
