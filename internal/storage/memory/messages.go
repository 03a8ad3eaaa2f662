// Package memory provides in-process implementations of the mail store
// contracts. They back the stdout development profile and unit tests; state
// is lost on restart.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// MessageStore is a mutex-guarded mail.MessageStore. Callers always receive
// copies.
type MessageStore struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*mq.Message
	byKey map[string]uuid.UUID
}

var _ mq.MessageStore = (*MessageStore)(nil)

// NewMessageStore creates an empty MessageStore.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		byID:  make(map[uuid.UUID]*mq.Message),
		byKey: make(map[string]uuid.UUID),
	}
}

func (s *MessageStore) Create(_ context.Context, m *mq.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.IdempotencyKey != "" {
		if _, ok := s.byKey[m.IdempotencyKey]; ok {
			return mq.ErrDuplicateIdempotencyKey
		}
		s.byKey[m.IdempotencyKey] = m.ID
	}
	s.byID[m.ID] = m.Clone()
	return nil
}

func (s *MessageStore) Get(_ context.Context, id uuid.UUID) (*mq.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, mq.ErrMessageNotFound
	}
	return m.Clone(), nil
}

func (s *MessageStore) GetByIdempotencyKey(_ context.Context, key string) (*mq.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, mq.ErrMessageNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MessageStore) ClaimForSending(_ context.Context, id uuid.UUID, now time.Time) (*mq.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, false, mq.ErrMessageNotFound
	}
	if !m.Status.Pending() {
		return m.Clone(), false, nil
	}
	m.Status = mq.StatusSending
	m.UpdatedAt = now
	return m.Clone(), true, nil
}

func (s *MessageStore) UpdateStatus(_ context.Context, id uuid.UUID, u mq.StatusUpdate, now time.Time) (*mq.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, false, mq.ErrMessageNotFound
	}
	if m.Status != mq.StatusSending || !m.UpdatedAt.Equal(u.ClaimedAt) {
		return m.Clone(), false, nil
	}
	m.Apply(u, now)
	return m.Clone(), true, nil
}

func (s *MessageStore) QueryDue(_ context.Context, now time.Time, limit int) ([]*mq.Message, error) {
	due := s.collect(func(m *mq.Message) bool {
		return m.Status.Pending() && m.NextAttemptAt != nil && !m.NextAttemptAt.After(now)
	})
	slices.SortFunc(due, func(a, b *mq.Message) int {
		if c := a.NextAttemptAt.Compare(*b.NextAttemptAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return truncate(due, limit), nil
}

func (s *MessageStore) RequeueStale(_ context.Context, cutoff, now time.Time, reason string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, m := range s.byID {
		if m.Status != mq.StatusSending || !m.UpdatedAt.Before(cutoff) {
			continue
		}
		next := now
		m.Status = mq.StatusRetrying
		m.NextAttemptAt = &next
		m.LastErrorMessage = reason
		m.UpdatedAt = now
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MessageStore) ListSentBefore(_ context.Context, cutoff time.Time, limit int) ([]*mq.Message, error) {
	sent := s.collect(func(m *mq.Message) bool { return sentBefore(m, cutoff) })
	slices.SortFunc(sent, func(a, b *mq.Message) int { return a.SentAt.Compare(*b.SentAt) })
	return truncate(sent, limit), nil
}

func (s *MessageStore) Delete(_ context.Context, ids []uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if s.remove(id) {
			n++
		}
	}
	return n, nil
}

func (s *MessageStore) DeleteSentBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, m := range s.byID {
		if sentBefore(m, cutoff) && s.remove(id) {
			n++
		}
	}
	return n, nil
}

// List returns messages newest first.
func (s *MessageStore) List(_ context.Context, f mq.ListFilter) ([]*mq.Message, error) {
	out := s.collect(func(m *mq.Message) bool { return f.Status == "" || m.Status == f.Status })
	slices.SortFunc(out, func(a, b *mq.Message) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return truncate(out, f.Limit), nil
}

func (s *MessageStore) collect(keep func(*mq.Message) bool) []*mq.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*mq.Message
	for _, m := range s.byID {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// remove must be called with mu held.
func (s *MessageStore) remove(id uuid.UUID) bool {
	m, ok := s.byID[id]
	if !ok {
		return false
	}
	if m.IdempotencyKey != "" {
		delete(s.byKey, m.IdempotencyKey)
	}
	delete(s.byID, id)
	return true
}

func sentBefore(m *mq.Message, cutoff time.Time) bool {
	return m.Status == mq.StatusSent && m.SentAt != nil && !m.SentAt.After(cutoff)
}

func truncate(list []*mq.Message, limit int) []*mq.Message {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
