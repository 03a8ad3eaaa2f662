package provider

import (
	"errors"
	"strings"
	"time"
)

// ProviderConfig holds configuration for a delivery backend.
type ProviderConfig struct {
	// Type identifies the backend: "stdout", "file", "smtp", "sendgrid",
	// "mailgun", "postmark", "sendpulse", "ses", "resend".
	Type string

	// APIKey is the authentication credential for HTTP providers, and the
	// access key ID for SES.
	APIKey string

	// SecretKey is the SES secret access key.
	SecretKey string

	// Endpoint overrides the default API URL (useful for testing).
	Endpoint string

	// Timeout is the maximum duration for API calls.
	Timeout time.Duration

	// Region is the AWS region for SES.
	Region string

	// Domain is the Mailgun sending domain.
	Domain string

	// FromName is the display name SendPulse attaches to the sender.
	FromName string

	// OutputDir is where the file backend writes messages.
	OutputDir string

	// SMTP relay settings.
	Host     string
	Port     int
	Username string
	Password string
	StartTLS bool
}

const defaultTimeout = 30 * time.Second

// Validate normalizes the type and checks that required fields are set.
func (c *ProviderConfig) Validate() error {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))
	if c.Type == "" {
		return errors.New("provider type is required")
	}

	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}

	switch c.Type {
	case "sendgrid", "postmark", "sendpulse", "resend":
		if c.APIKey == "" {
			return errors.New(c.Type + ": api_key is required")
		}
	case "ses":
		if c.Region == "" {
			return errors.New("ses: region is required")
		}
		if (c.APIKey == "") != (c.SecretKey == "") {
			return errors.New("ses: access key and secret key must be set together")
		}
	case "mailgun":
		if c.APIKey == "" {
			return errors.New("mailgun: api_key is required")
		}
		if c.Domain == "" {
			return errors.New("mailgun: domain is required")
		}
	case "smtp":
		if c.Host == "" {
			return errors.New("smtp: host is required")
		}
		if c.Port == 0 {
			c.Port = 587
		}
	case "stdout":
		// No configuration required.
	case "file":
		// OutputDir is optional (defaults to ./mail_output).
	default:
		return errors.New("unknown provider type: " + c.Type)
	}

	return nil
}
