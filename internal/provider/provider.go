// Package provider implements the outbound delivery backends: SMTP relays,
// provider HTTP APIs and SDKs, and local development sinks.
package provider

import (
	"context"
	"time"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// Provider defines the interface for sending email through an ESP.
type Provider interface {
	// Send delivers a message and returns a delivery result. Errors are
	// returned as-is; Backend turns them into in-band results.
	Send(ctx context.Context, msg *mq.Message) (*DeliveryResult, error)
	// GetName returns the provider's identifier (e.g., "sendgrid", "ses").
	GetName() string
	// HealthCheck verifies the provider is reachable and functional.
	HealthCheck(ctx context.Context) error
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}

// HTTPRequest represents an outgoing HTTP request.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// HTTPResponse represents an HTTP response from a provider API.
type HTTPResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// DeliveryResult contains the outcome of a successful delivery attempt.
type DeliveryResult struct {
	ProviderMessageID string
	Timestamp         time.Time
	Metadata          map[string]string
}
