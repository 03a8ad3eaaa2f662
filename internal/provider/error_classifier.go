package provider

import (
	"errors"
	"fmt"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
)

// ProviderError wraps a backend failure with classification metadata.
type ProviderError struct {
	// Provider is the name of the backend that returned the error.
	Provider string
	// StatusCode is the HTTP or SMTP reply code, when one was received.
	StatusCode int
	Message    string
	// Permanent indicates the error will not succeed on retry.
	Permanent bool
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return e.Provider + ": " + e.Message
}

// IsPermanent reports whether err is a classified failure that will not
// succeed on retry.
func IsPermanent(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return false
}

// IsTransient reports whether err may succeed on retry. Unclassified errors
// count as transient.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return !pe.Permanent
	}
	return true
}

// ClassifyHTTPError creates a ProviderError from an HTTP status code and
// response body. It returns nil for 2xx codes.
func ClassifyHTTPError(providerName string, statusCode int, body string) *ProviderError {
	pe := &ProviderError{
		Provider:   providerName,
		StatusCode: statusCode,
		Message:    strings.TrimSpace(body),
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil

	case statusCode == 400:
		pe.Permanent = containsPermanentIndicator(body)

	case statusCode == 401, statusCode == 403, statusCode == 404:
		pe.Permanent = true

	case statusCode == 429:
		pe.Permanent = false

	case statusCode >= 500:
		pe.Permanent = containsPermanentServerIndicator(body)

	default:
		pe.Permanent = statusCode >= 400 && statusCode < 500
	}

	return pe
}

// ClassifySMTPError wraps an error from an SMTP exchange. 5xx replies are
// permanent, 4xx replies and connection errors are transient.
func ClassifySMTPError(providerName string, err error) error {
	if err == nil {
		return nil
	}
	var se *gosmtp.SMTPError
	if errors.As(err, &se) {
		return &ProviderError{
			Provider:   providerName,
			StatusCode: se.Code,
			Message:    se.Message,
			Permanent:  se.Code >= 500,
		}
	}
	return &ProviderError{Provider: providerName, Message: err.Error()}
}

// containsPermanentIndicator checks if a 400 response body indicates a
// permanent failure (e.g., invalid recipient, bad request that won't change).
func containsPermanentIndicator(body string) bool {
	return containsAny(body,
		"invalid recipient",
		"invalid email",
		"does not exist",
		"mailbox not found",
		"recipient rejected",
		"bad request",
		"validation error",
		"invalid address",
	)
}

// containsPermanentServerIndicator checks if a 5xx response body indicates
// a permanent server-side failure (e.g., invalid auth configuration).
func containsPermanentServerIndicator(body string) bool {
	return containsAny(body,
		"invalid api key",
		"authentication failed",
		"account suspended",
		"account disabled",
		"unauthorized",
	)
}

func containsAny(body string, patterns ...string) bool {
	lower := strings.ToLower(body)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
