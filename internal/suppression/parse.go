// Package suppression turns provider webhook payloads into suppression
// entries and manages the suppression list.
package suppression

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// ErrUnsupportedProvider is returned for a webhook from an unknown provider.
var ErrUnsupportedProvider = errors.New("unsupported webhook provider")

// PayloadError reports a webhook body that does not have the provider's shape.
type PayloadError struct {
	Provider string
	Reason   string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s webhook: %s", e.Provider, e.Reason)
}

// Event is one address a provider reported as bounced or complained.
type Event struct {
	Email    string
	Reason   mq.SuppressionReason
	Metadata map[string]any
}

type parser func(body []byte) ([]Event, error)

var parsers = map[string]parser{
	"sendgrid":  parseSendGrid,
	"postmark":  parsePostmark,
	"ses":       parseSES,
	"sendpulse": parseSendPulse,
	"mailgun":   parseMailgun,
}

// Providers returns the webhook sources Parse understands, sorted.
func Providers() []string {
	names := make([]string, 0, len(parsers))
	for name := range parsers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Parse extracts suppression events from a webhook body. Events that do not
// imply a suppression (deliveries, opens) are skipped, as are entries
// without an address. Emails are normalized.
func Parse(provider string, body []byte) ([]Event, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	p, ok := parsers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, name)
	}
	return p(body)
}

func newEvent(email string, reason mq.SuppressionReason, meta map[string]any) (Event, bool) {
	email = mq.NormalizeEmail(email)
	if email == "" {
		return Event{}, false
	}
	return Event{Email: email, Reason: reason, Metadata: meta}, true
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// decodeItem unmarshals raw into both a typed view and a generic map kept
// as event metadata.
func decodeItem(raw []byte, v any) (map[string]any, error) {
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

type sendgridEvent struct {
	Email string `json:"email"`
	Event string `json:"event"`
}

func parseSendGrid(body []byte) ([]Event, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &PayloadError{Provider: "sendgrid", Reason: "payload must be a list"}
	}

	var events []Event
	for _, raw := range items {
		var item sendgridEvent
		meta, err := decodeItem(raw, &item)
		if err != nil {
			return nil, &PayloadError{Provider: "sendgrid", Reason: "event must be an object"}
		}
		var reason mq.SuppressionReason
		switch lower(item.Event) {
		case "bounce", "dropped":
			reason = mq.ReasonBounce
		case "spamreport", "complaint":
			reason = mq.ReasonComplaint
		default:
			continue
		}
		if ev, ok := newEvent(item.Email, reason, meta); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

type postmarkEvent struct {
	RecordType string `json:"RecordType"`
	Email      string `json:"Email"`
}

func parsePostmark(body []byte) ([]Event, error) {
	var item postmarkEvent
	meta, err := decodeItem(body, &item)
	if err != nil {
		return nil, &PayloadError{Provider: "postmark", Reason: "payload must be an object"}
	}

	var reason mq.SuppressionReason
	switch lower(item.RecordType) {
	case "bounce":
		reason = mq.ReasonBounce
	case "spamcomplaint":
		reason = mq.ReasonComplaint
	default:
		return nil, nil
	}
	if ev, ok := newEvent(item.Email, reason, meta); ok {
		return []Event{ev}, nil
	}
	return nil, nil
}

// snsEnvelope is the wrapper SNS puts around SES notifications.
type snsEnvelope struct {
	Type         string `json:"Type"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

type sesRecipient struct {
	EmailAddress string `json:"emailAddress"`
}

type sesNotification struct {
	NotificationType string `json:"notificationType"`
	EventType        string `json:"eventType"`
	Bounce           struct {
		BounceType        string         `json:"bounceType"`
		BouncedRecipients []sesRecipient `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint struct {
		ComplainedRecipients []sesRecipient `json:"complainedRecipients"`
	} `json:"complaint"`
}

// SubscribeURL returns the confirmation URL when body is an SNS
// SubscriptionConfirmation envelope.
func SubscribeURL(body []byte) (string, bool) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", false
	}
	if env.Type != "SubscriptionConfirmation" || env.SubscribeURL == "" {
		return "", false
	}
	return env.SubscribeURL, true
}

func parseSES(body []byte) ([]Event, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &PayloadError{Provider: "ses", Reason: "payload must be an object"}
	}
	switch env.Type {
	case "SubscriptionConfirmation", "UnsubscribeConfirmation":
		return nil, nil
	case "Notification":
		body = []byte(env.Message)
	}

	var n sesNotification
	meta, err := decodeItem(body, &n)
	if err != nil {
		return nil, &PayloadError{Provider: "ses", Reason: "notification must be an object"}
	}

	kind := lower(n.NotificationType)
	if kind == "" {
		kind = lower(n.EventType)
	}

	var (
		reason     mq.SuppressionReason
		recipients []sesRecipient
	)
	switch kind {
	case "bounce":
		reason, recipients = mq.ReasonBounce, n.Bounce.BouncedRecipients
	case "complaint":
		reason, recipients = mq.ReasonComplaint, n.Complaint.ComplainedRecipients
	default:
		return nil, nil
	}

	var events []Event
	for _, r := range recipients {
		if ev, ok := newEvent(r.EmailAddress, reason, meta); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

type sendpulseEvent struct {
	Email string `json:"email"`
	Event string `json:"event"`
}

func parseSendPulse(body []byte) ([]Event, error) {
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.Data) > 0 {
			body = wrapper.Data
			trimmed = strings.TrimSpace(string(body))
		}
	}
	if strings.HasPrefix(trimmed, "{") {
		body = []byte("[" + trimmed + "]")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &PayloadError{Provider: "sendpulse", Reason: "payload must be a list or an object"}
	}

	var events []Event
	for _, raw := range items {
		var item sendpulseEvent
		meta, err := decodeItem(raw, &item)
		if err != nil {
			return nil, &PayloadError{Provider: "sendpulse", Reason: "event must be an object"}
		}
		var reason mq.SuppressionReason
		switch lower(item.Event) {
		case "bounce":
			reason = mq.ReasonBounce
		case "complaint", "spam":
			reason = mq.ReasonComplaint
		default:
			continue
		}
		if ev, ok := newEvent(item.Email, reason, meta); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

type mailgunPayload struct {
	EventData json.RawMessage `json:"event-data"`
}

type mailgunEvent struct {
	Event     string `json:"event"`
	Severity  string `json:"severity"`
	Recipient string `json:"recipient"`
}

// parseMailgun suppresses on permanent failures and complaints; temporary
// failures are Mailgun's own retries.
func parseMailgun(body []byte) ([]Event, error) {
	var p mailgunPayload
	if err := json.Unmarshal(body, &p); err != nil || len(p.EventData) == 0 {
		return nil, &PayloadError{Provider: "mailgun", Reason: "payload must carry event-data"}
	}

	var item mailgunEvent
	meta, err := decodeItem(p.EventData, &item)
	if err != nil {
		return nil, &PayloadError{Provider: "mailgun", Reason: "event-data must be an object"}
	}

	var reason mq.SuppressionReason
	switch lower(item.Event) {
	case "failed":
		if lower(item.Severity) != "permanent" {
			return nil, nil
		}
		reason = mq.ReasonBounce
	case "complained":
		reason = mq.ReasonComplaint
	default:
		return nil, nil
	}
	if ev, ok := newEvent(item.Recipient, reason, meta); ok {
		return []Event{ev}, nil
	}
	return nil, nil
}
