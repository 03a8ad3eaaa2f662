// Package validate checks envelopes and content before a message is stored.
package validate

import (
	"net/mail"
	"strings"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// Envelope is the addressing and content of a submission after rendering.
type Envelope struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	HTML    string
	Text    string
}

// Check validates e and returns a normalized copy: recipients are trimmed and
// empty entries dropped, subject and sender are trimmed.
func Check(e Envelope) (Envelope, error) {
	var (
		out Envelope
		err error
	)
	if out.To, err = Recipients("to", e.To, true); err != nil {
		return Envelope{}, err
	}
	if out.Cc, err = Recipients("cc", e.Cc, false); err != nil {
		return Envelope{}, err
	}
	if out.Bcc, err = Recipients("bcc", e.Bcc, false); err != nil {
		return Envelope{}, err
	}
	if out.Subject, err = Subject(e.Subject); err != nil {
		return Envelope{}, err
	}
	if out.From, err = Sender(e.From); err != nil {
		return Envelope{}, err
	}
	if strings.TrimSpace(e.HTML) == "" && strings.TrimSpace(e.Text) == "" {
		return Envelope{}, &mq.ValidationError{Field: "body", Reason: "html or text body is required"}
	}
	out.HTML, out.Text = e.HTML, e.Text
	return out, nil
}

// Recipients trims the list and drops empty entries. A required list must be
// non-nil and keep at least one entry.
func Recipients(field string, list []string, required bool) ([]string, error) {
	if list == nil && required {
		return nil, &mq.ValidationError{Field: field, Reason: "recipient list is required"}
	}
	out := make([]string, 0, len(list))
	for _, raw := range list {
		addr := strings.TrimSpace(raw)
		if addr == "" {
			continue
		}
		if err := HeaderSafe(field, addr); err != nil {
			return nil, err
		}
		if err := Address(field, addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	if required && len(out) == 0 {
		return nil, &mq.ValidationError{Field: field, Reason: "at least one recipient is required"}
	}
	return out, nil
}

// Subject requires a non-blank single-line subject.
func Subject(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &mq.ValidationError{Field: "subject", Reason: "subject is required"}
	}
	if err := HeaderSafe("subject", s); err != nil {
		return "", err
	}
	return s, nil
}

// Sender requires a non-blank, well-formed from address.
func Sender(from string) (string, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", &mq.ValidationError{Field: "from_email", Reason: "sender is required"}
	}
	if err := HeaderSafe("from_email", from); err != nil {
		return "", err
	}
	if err := Address("from_email", from); err != nil {
		return "", err
	}
	return from, nil
}

// HeaderSafe rejects values carrying CR or LF. Callers trim first, so only
// embedded line breaks are rejected.
func HeaderSafe(field, v string) error {
	if strings.ContainsAny(v, "\r\n") {
		return &mq.ValidationError{Field: field, Reason: "header injection detected"}
	}
	return nil
}

// Address parses addr as an RFC 5322 address.
func Address(field, addr string) error {
	if _, err := mail.ParseAddress(addr); err != nil {
		return &mq.ValidationError{Field: field, Reason: "invalid address " + addr}
	}
	return nil
}
