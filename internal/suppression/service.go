package suppression

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sungwon/mailqueue/internal/logger"
	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/metrics"
)

// Service manages the suppression list on top of a store.
type Service struct {
	store mq.SuppressionStore
	now   func() time.Time
}

// NewService creates a suppression service.
func NewService(store mq.SuppressionStore) *Service {
	return &Service{store: store, now: time.Now}
}

// Ingest parses a provider webhook body and suppresses every reported
// address. It returns the number of entries written.
func (s *Service) Ingest(ctx context.Context, provider string, body []byte) (int, error) {
	events, err := Parse(provider, body)
	if err != nil {
		return 0, err
	}
	provider = strings.ToLower(strings.TrimSpace(provider))

	log := logger.FromContext(ctx)
	for i, ev := range events {
		if err := s.Add(ctx, ev.Email, ev.Reason, provider, ev.Metadata); err != nil {
			return i, err
		}
		log.Info().
			Str("provider", provider).
			Str("reason", string(ev.Reason)).
			Msg("address suppressed from webhook")
	}
	return len(events), nil
}

// Add suppresses email. Adding an address that is already suppressed
// replaces the entry.
func (s *Service) Add(ctx context.Context, email string, reason mq.SuppressionReason, provider string, meta map[string]any) error {
	email = mq.NormalizeEmail(email)
	if email == "" {
		return &mq.ValidationError{Field: "email", Reason: "is required"}
	}
	reason, err := mq.ParseSuppressionReason(string(reason))
	if err != nil {
		return &mq.ValidationError{Field: "reason", Reason: err.Error()}
	}

	entry := &mq.Suppression{
		Email:     email,
		Reason:    reason,
		Provider:  provider,
		Metadata:  meta,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Add(ctx, entry); err != nil {
		return fmt.Errorf("add suppression: %w", err)
	}
	metrics.SuppressionsAddedTotal.WithLabelValues(string(reason), provider).Inc()
	return nil
}

// Remove lifts the suppression on email.
func (s *Service) Remove(ctx context.Context, email string) error {
	if err := s.store.Remove(ctx, mq.NormalizeEmail(email)); err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	return nil
}

// Get returns the entry for email or mail.ErrSuppressionNotFound.
func (s *Service) Get(ctx context.Context, email string) (*mq.Suppression, error) {
	return s.store.Get(ctx, mq.NormalizeEmail(email))
}

// List returns up to limit entries ordered by email.
func (s *Service) List(ctx context.Context, limit int) ([]*mq.Suppression, error) {
	return s.store.List(ctx, limit)
}
