package mail

import (
	"fmt"
	netmail "net/mail"
	"strings"
	"time"
)

// SuppressionReason records why an address is blocked.
type SuppressionReason string

const (
	ReasonBounce    SuppressionReason = "BOUNCE"
	ReasonComplaint SuppressionReason = "COMPLAINT"
)

// ParseSuppressionReason accepts either case.
func ParseSuppressionReason(v string) (SuppressionReason, error) {
	switch r := SuppressionReason(strings.ToUpper(strings.TrimSpace(v))); r {
	case ReasonBounce, ReasonComplaint:
		return r, nil
	}
	return "", fmt.Errorf("unknown suppression reason %q", v)
}

// Suppression is a standing block on an address.
type Suppression struct {
	Email     string            `json:"email"`
	Reason    SuppressionReason `json:"reason"`
	Provider  string            `json:"provider,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NormalizeEmail returns the suppression key for an address. A display-name
// form such as "Ana <ana@example.com>" is reduced to its addr-spec.
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if parsed, err := netmail.ParseAddress(email); err == nil {
		email = parsed.Address
	}
	return strings.ToLower(email)
}
