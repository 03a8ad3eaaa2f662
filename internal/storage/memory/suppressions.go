package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// SuppressionStore is an in-memory mail.SuppressionStore.
type SuppressionStore struct {
	mu      sync.RWMutex
	byEmail map[string]*mq.Suppression
}

var _ mq.SuppressionStore = (*SuppressionStore)(nil)

// NewSuppressionStore creates an empty SuppressionStore.
func NewSuppressionStore() *SuppressionStore {
	return &SuppressionStore{byEmail: make(map[string]*mq.Suppression)}
}

func (s *SuppressionStore) IsSuppressed(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[mq.NormalizeEmail(email)]
	return ok, nil
}

func (s *SuppressionStore) Add(_ context.Context, entry *mq.Suppression) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *entry
	c.Email = mq.NormalizeEmail(entry.Email)
	c.Metadata = maps.Clone(entry.Metadata)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.byEmail[c.Email] = &c
	return nil
}

func (s *SuppressionStore) Remove(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mq.NormalizeEmail(email)
	if _, ok := s.byEmail[key]; !ok {
		return mq.ErrSuppressionNotFound
	}
	delete(s.byEmail, key)
	return nil
}

func (s *SuppressionStore) Get(_ context.Context, email string) (*mq.Suppression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byEmail[mq.NormalizeEmail(email)]
	if !ok {
		return nil, mq.ErrSuppressionNotFound
	}
	c := *entry
	c.Metadata = maps.Clone(entry.Metadata)
	return &c, nil
}

// List returns entries sorted by email.
func (s *SuppressionStore) List(_ context.Context, limit int) ([]*mq.Suppression, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*mq.Suppression, 0, len(s.byEmail))
	for _, email := range slices.Sorted(maps.Keys(s.byEmail)) {
		c := *s.byEmail[email]
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
