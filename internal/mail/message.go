// Package mail holds the domain model shared by the delivery engine, the
// template engine and the storage backends: messages and their state machine,
// versioned templates, suppressions and the store contracts.
package mail

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusSending  Status = "SENDING"
	StatusSent     Status = "SENT"
	StatusRetrying Status = "RETRYING"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Pending reports whether a message in state s waits for a send attempt.
func (s Status) Pending() bool {
	return s == StatusQueued || s == StatusRetrying
}

// ParseStatus converts a stored or user supplied value into a Status.
func ParseStatus(v string) (Status, error) {
	switch s := Status(v); s {
	case StatusQueued, StatusSending, StatusSent, StatusRetrying, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("unknown message status %q", v)
}

// transitions lists the allowed edges of the state machine. SENDING ->
// RETRYING also covers recovery of attempts interrupted by a crash.
var transitions = map[Status][]Status{
	StatusQueued:   {StatusSending},
	StatusRetrying: {StatusSending},
	StatusSending:  {StatusSent, StatusRetrying, StatusFailed},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Message is the unit of delivery.
type Message struct {
	ID             uuid.UUID `json:"id"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`

	FromEmail string   `json:"from_email"`
	To        []string `json:"to"`
	Cc        []string `json:"cc"`
	Bcc       []string `json:"bcc"`

	// TemplateName and TemplateRevision are empty for raw sends.
	TemplateName     string `json:"template_name,omitempty"`
	TemplateRevision int    `json:"template_revision_used,omitempty"`

	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body,omitempty"`
	TextBody string `json:"text_body,omitempty"`

	Status            Status     `json:"status"`
	Provider          string     `json:"provider"`
	AttemptCount      int        `json:"attempt_count"`
	MaxAttempts       int        `json:"max_attempts"`
	NextAttemptAt     *time.Time `json:"next_attempt_at"`
	LastErrorMessage  string     `json:"last_error_message,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SentAt    *time.Time `json:"sent_at"`
}

// Recipients returns to, cc and bcc in that order.
func (m *Message) Recipients() []string {
	all := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	return append(all, m.Bcc...)
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := *m
	c.To = append([]string(nil), m.To...)
	c.Cc = append([]string(nil), m.Cc...)
	c.Bcc = append([]string(nil), m.Bcc...)
	if m.NextAttemptAt != nil {
		t := *m.NextAttemptAt
		c.NextAttemptAt = &t
	}
	if m.SentAt != nil {
		t := *m.SentAt
		c.SentAt = &t
	}
	return &c
}

// StatusUpdate is the bookkeeping written when a send attempt completes.
// ClaimedAt is the updated_at stamped by the claim the attempt ran under.
// Every field is written as given; nil times clear the column.
type StatusUpdate struct {
	Status            Status
	AttemptCount      int
	NextAttemptAt     *time.Time
	LastErrorMessage  string
	ProviderMessageID string
	SentAt            *time.Time
	ClaimedAt         time.Time
}

// Apply copies the update onto m.
func (m *Message) Apply(u StatusUpdate, now time.Time) {
	m.Status = u.Status
	m.AttemptCount = u.AttemptCount
	m.NextAttemptAt = u.NextAttemptAt
	m.LastErrorMessage = u.LastErrorMessage
	m.ProviderMessageID = u.ProviderMessageID
	m.SentAt = u.SentAt
	m.UpdatedAt = now
}

// ListFilter narrows Message listings.
type ListFilter struct {
	Status Status
	Limit  int
}
