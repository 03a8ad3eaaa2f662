package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

const sendpulseDefaultEndpoint = "https://api.sendpulse.com/smtp/emails"

// SendPulse delivers through the SendPulse SMTP API.
type SendPulse struct {
	token    string
	fromName string
	endpoint string
	client   HTTPClient
}

// NewSendPulse creates a SendPulse provider. APIKey carries the bearer token
// and FromName, when set, is attached to the sender.
func NewSendPulse(cfg ProviderConfig, client HTTPClient) *SendPulse {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = sendpulseDefaultEndpoint
	}
	return &SendPulse{
		token:    cfg.APIKey,
		fromName: cfg.FromName,
		endpoint: endpoint,
		client:   client,
	}
}

func (s *SendPulse) GetName() string { return "sendpulse" }

type sendpulseAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendpulseEmail struct {
	Subject string             `json:"subject"`
	From    sendpulseAddress   `json:"from"`
	To      []sendpulseAddress `json:"to"`
	Cc      []sendpulseAddress `json:"cc,omitempty"`
	Bcc     []sendpulseAddress `json:"bcc,omitempty"`
	HTML    string             `json:"html,omitempty"`
	Text    string             `json:"text,omitempty"`
}

type sendpulsePayload struct {
	Email sendpulseEmail `json:"email"`
}

type sendpulseResponse struct {
	Result bool   `json:"result"`
	ID     string `json:"id"`
}

func sendpulseAddresses(addrs []string) []sendpulseAddress {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]sendpulseAddress, len(addrs))
	for i, a := range addrs {
		out[i] = sendpulseAddress{Email: a}
	}
	return out
}

func (s *SendPulse) buildPayload(msg *mq.Message) sendpulsePayload {
	return sendpulsePayload{Email: sendpulseEmail{
		Subject: msg.Subject,
		From:    sendpulseAddress{Email: msg.FromEmail, Name: s.fromName},
		To:      sendpulseAddresses(msg.To),
		Cc:      sendpulseAddresses(msg.Cc),
		Bcc:     sendpulseAddresses(msg.Bcc),
		HTML:    msg.HTMLBody,
		Text:    msg.TextBody,
	}}
}

// Send posts the message. When the response carries no id the HTTP status
// is recorded instead.
func (s *SendPulse) Send(ctx context.Context, msg *mq.Message) (*DeliveryResult, error) {
	req, err := jsonRequest(s.endpoint, map[string]string{
		"Authorization": "Bearer " + s.token,
	}, s.buildPayload(msg))
	if err != nil {
		return nil, fmt.Errorf("sendpulse: marshal request: %w", err)
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sendpulse: send request: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, ClassifyHTTPError(s.GetName(), resp.StatusCode, string(resp.Body))
	}

	id := strconv.Itoa(resp.StatusCode)
	var sr sendpulseResponse
	if err := json.Unmarshal(resp.Body, &sr); err == nil && strings.TrimSpace(sr.ID) != "" {
		id = sr.ID
	}
	return &DeliveryResult{ProviderMessageID: id, Timestamp: time.Now()}, nil
}

// HealthCheck only confirms a token is configured; SendPulse has no cheap
// authenticated probe for this token type.
func (s *SendPulse) HealthCheck(_ context.Context) error {
	if s.token == "" {
		return fmt.Errorf("sendpulse: api token not configured")
	}
	return nil
}
