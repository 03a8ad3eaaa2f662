package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

const (
	postmarkDefaultEndpoint = "https://api.postmarkapp.com"
	postmarkEmailPath       = "/email"
	postmarkServerPath      = "/server"
	postmarkTokenHeader     = "X-Postmark-Server-Token"
)

// Postmark delivers through the Postmark single-email API.
type Postmark struct {
	token    string
	endpoint string
	client   HTTPClient
}

// NewPostmark creates a Postmark provider. APIKey carries the server token.
func NewPostmark(cfg ProviderConfig, client HTTPClient) *Postmark {
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = postmarkDefaultEndpoint
	}
	return &Postmark{
		token:    cfg.APIKey,
		endpoint: endpoint,
		client:   client,
	}
}

func (p *Postmark) GetName() string { return "postmark" }

type postmarkPayload struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Cc       string `json:"Cc,omitempty"`
	Bcc      string `json:"Bcc,omitempty"`
	Subject  string `json:"Subject"`
	TextBody string `json:"TextBody,omitempty"`
	HTMLBody string `json:"HtmlBody,omitempty"`
}

type postmarkResponse struct {
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// Send posts the message to /email. A non-zero ErrorCode in a 2xx body is
// a rejection.
func (p *Postmark) Send(ctx context.Context, msg *mq.Message) (*DeliveryResult, error) {
	req, err := jsonRequest(p.endpoint+postmarkEmailPath, map[string]string{
		postmarkTokenHeader: p.token,
	}, postmarkPayload{
		From:     msg.FromEmail,
		To:       strings.Join(msg.To, ","),
		Cc:       strings.Join(msg.Cc, ","),
		Bcc:      strings.Join(msg.Bcc, ","),
		Subject:  msg.Subject,
		TextBody: msg.TextBody,
		HTMLBody: msg.HTMLBody,
	})
	if err != nil {
		return nil, fmt.Errorf("postmark: marshal request: %w", err)
	}

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("postmark: send request: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, ClassifyHTTPError(p.GetName(), resp.StatusCode, string(resp.Body))
	}

	var pr postmarkResponse
	if err := json.Unmarshal(resp.Body, &pr); err != nil {
		return nil, fmt.Errorf("postmark: decode response: %w", err)
	}
	if pr.ErrorCode != 0 {
		return nil, &ProviderError{
			Provider:   p.GetName(),
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("error code %d: %s", pr.ErrorCode, pr.Message),
			Permanent:  true,
		}
	}
	return &DeliveryResult{
		ProviderMessageID: pr.MessageID,
		Timestamp:         time.Now(),
	}, nil
}

// HealthCheck fetches the server record for the configured token.
func (p *Postmark) HealthCheck(ctx context.Context) error {
	resp, err := p.client.Do(ctx, &HTTPRequest{
		Method: http.MethodGet,
		URL:    p.endpoint + postmarkServerPath,
		Headers: map[string]string{
			postmarkTokenHeader: p.token,
			"Accept":            "application/json",
		},
	})
	if err != nil {
		return fmt.Errorf("postmark: health check request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("postmark: health check returned status %d", resp.StatusCode)
	}
	return nil
}
