package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

const (
	sendgridDefaultEndpoint = "https://api.sendgrid.com"
	sendgridSendPath        = "/v3/mail/send"
	sendgridScopesPath      = "/v3/scopes"
)

// SendGrid delivers through the SendGrid v3 Mail Send API.
type SendGrid struct {
	apiKey   string
	endpoint string
	client   HTTPClient
}

// NewSendGrid creates a SendGrid provider from the given configuration.
func NewSendGrid(cfg ProviderConfig, client HTTPClient) *SendGrid {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = sendgridDefaultEndpoint
	}
	return &SendGrid{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		client:   client,
	}
}

func (s *SendGrid) GetName() string { return "sendgrid" }

// Send posts the message to mail/send. The message id comes back in the
// X-Message-Id response header.
func (s *SendGrid) Send(ctx context.Context, msg *mq.Message) (*DeliveryResult, error) {
	req, err := jsonRequest(s.endpoint+sendgridSendPath, map[string]string{
		"Authorization": "Bearer " + s.apiKey,
	}, s.buildPayload(msg))
	if err != nil {
		return nil, fmt.Errorf("sendgrid: marshal request: %w", err)
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sendgrid: send request: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, ClassifyHTTPError(s.GetName(), resp.StatusCode, string(resp.Body))
	}

	return &DeliveryResult{
		ProviderMessageID: resp.Headers["X-Message-Id"],
		Timestamp:         time.Now(),
		Metadata: map[string]string{
			"status_code": fmt.Sprintf("%d", resp.StatusCode),
		},
	}, nil
}

// HealthCheck verifies SendGrid API connectivity by calling the scopes endpoint.
func (s *SendGrid) HealthCheck(ctx context.Context) error {
	resp, err := s.client.Do(ctx, &HTTPRequest{
		Method: http.MethodGet,
		URL:    s.endpoint + sendgridScopesPath,
		Headers: map[string]string{
			"Authorization": "Bearer " + s.apiKey,
		},
	})
	if err != nil {
		return fmt.Errorf("sendgrid: health check request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sendgrid: health check returned status %d", resp.StatusCode)
	}
	return nil
}

type sendgridPayload struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridEmail             `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendgridPersonalization struct {
	To  []sendgridEmail `json:"to"`
	Cc  []sendgridEmail `json:"cc,omitempty"`
	Bcc []sendgridEmail `json:"bcc,omitempty"`
}

type sendgridEmail struct {
	Email string `json:"email"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func sendgridEmails(addrs []string) []sendgridEmail {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]sendgridEmail, len(addrs))
	for i, addr := range addrs {
		out[i] = sendgridEmail{Email: addr}
	}
	return out
}

func (s *SendGrid) buildPayload(msg *mq.Message) sendgridPayload {
	// SendGrid requires text/plain before text/html.
	var content []sendgridContent
	if msg.TextBody != "" {
		content = append(content, sendgridContent{Type: "text/plain", Value: msg.TextBody})
	}
	if msg.HTMLBody != "" {
		content = append(content, sendgridContent{Type: "text/html", Value: msg.HTMLBody})
	}

	return sendgridPayload{
		Personalizations: []sendgridPersonalization{{
			To:  sendgridEmails(msg.To),
			Cc:  sendgridEmails(msg.Cc),
			Bcc: sendgridEmails(msg.Bcc),
		}},
		From:    sendgridEmail{Email: msg.FromEmail},
		Subject: msg.Subject,
		Content: content,
		CustomArgs: map[string]string{
			"message_id": msg.ID.String(),
		},
	}
}
