package mail

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusSending, true},
		{StatusRetrying, StatusSending, true},
		{StatusSending, StatusSent, true},
		{StatusSending, StatusRetrying, true},
		{StatusSending, StatusFailed, true},
		{StatusQueued, StatusSent, false},
		{StatusSent, StatusSending, false},
		{StatusFailed, StatusRetrying, false},
		{StatusSent, StatusFailed, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusSent, StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusSending, StatusRetrying} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("RETRYING"); err != nil || s != StatusRetrying {
		t.Errorf("ParseStatus(RETRYING) = %q, %v", s, err)
	}
	if _, err := ParseStatus("retrying"); err == nil {
		t.Error("ParseStatus(retrying) expected error")
	}
}

func TestMessageCloneIsDeep(t *testing.T) {
	next := time.Now()
	m := &Message{To: []string{"a@example.com"}, NextAttemptAt: &next}
	c := m.Clone()
	c.To[0] = "b@example.com"
	*c.NextAttemptAt = next.Add(time.Hour)

	if m.To[0] != "a@example.com" {
		t.Errorf("original To mutated: %v", m.To)
	}
	if !m.NextAttemptAt.Equal(next) {
		t.Errorf("original NextAttemptAt mutated: %v", m.NextAttemptAt)
	}
}

func TestIsClientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"validation", &ValidationError{Field: "to", Reason: "empty"}, true},
		{"wrapped missing vars", errors.Join(errors.New("ctx"), &MissingVarsError{Vars: []string{"a"}}), true},
		{"idempotency", ErrIdempotencyKeyRequired, true},
		{"not found", ErrMessageNotFound, false},
		{"other", errors.New("db down"), false},
	}
	for _, tt := range tests {
		if got := IsClientError(tt.err); got != tt.want {
			t.Errorf("IsClientError(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestParseSuppressionReason(t *testing.T) {
	if r, err := ParseSuppressionReason(" bounce "); err != nil || r != ReasonBounce {
		t.Errorf("ParseSuppressionReason(bounce) = %q, %v", r, err)
	}
	if _, err := ParseSuppressionReason("spam"); err == nil {
		t.Error("ParseSuppressionReason(spam) expected error")
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Ana@Example.COM ", "ana@example.com"},
		{"Ana <Ana@Example.com>", "ana@example.com"},
		{`"Ana B" <ana@example.com>`, "ana@example.com"},
		{"not an address", "not an address"},
	}
	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
