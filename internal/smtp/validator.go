package smtp

import (
	"net/mail"
	"strings"
)

// ValidateEmailAddress checks an address with net/mail's RFC 5322 parser.
func ValidateEmailAddress(email string) error {
	_, err := mail.ParseAddress(email)
	return err
}

// ExtractDomain returns the lower-cased domain of email, or "" when it has
// no local part or no domain.
func ExtractDomain(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" {
		return ""
	}
	return strings.ToLower(domain)
}

// IsValidDomain reports whether domain is non-empty, has at least one dot
// and does not start or end with one.
func IsValidDomain(domain string) bool {
	return domain != "" &&
		strings.Contains(domain, ".") &&
		!strings.HasPrefix(domain, ".") &&
		!strings.HasSuffix(domain, ".")
}

// domainAllowed reports whether domain is in allowed. An empty list allows
// everything.
func domainAllowed(allowed []string, domain string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, d := range allowed {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
