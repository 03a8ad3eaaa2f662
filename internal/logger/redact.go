package logger

import "regexp"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password=)[^&\s]+`),
	regexp.MustCompile(`(?i)(token=)[^&\s]+`),
	regexp.MustCompile(`(?i)(api_key=)[^&\s]+`),
}

// Redact masks credential query parameters in s. It is applied to provider
// error text before it is logged or stored on a message.
func Redact(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, "${1}REDACTED")
	}
	return s
}
