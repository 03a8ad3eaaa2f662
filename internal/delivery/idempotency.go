package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/metrics"
)

// IdempotencyResolver deduplicates submissions by idempotency key. The store's
// unique constraint is the only arbiter; the resolver never locks in memory.
type IdempotencyResolver struct {
	store mq.MessageStore
}

// NewIdempotencyResolver creates a resolver over store.
func NewIdempotencyResolver(store mq.MessageStore) *IdempotencyResolver {
	return &IdempotencyResolver{store: store}
}

// NormalizeKey trims key and rejects a blank one without touching the store.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", mq.ErrIdempotencyKeyRequired
	}
	return key, nil
}

// Existing returns the message stored under key, or nil when there is none.
func (r *IdempotencyResolver) Existing(ctx context.Context, key string) (*mq.Message, error) {
	m, err := r.store.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, mq.ErrMessageNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	metrics.IdempotentHitsTotal.Inc()
	return m, nil
}

// Create persists m. When a concurrent writer stored the same key first, the
// winner's row is returned with created=false.
func (r *IdempotencyResolver) Create(ctx context.Context, m *mq.Message) (stored *mq.Message, created bool, err error) {
	err = r.store.Create(ctx, m)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, mq.ErrDuplicateIdempotencyKey) {
		return nil, false, fmt.Errorf("create message: %w", err)
	}

	winner, err := r.store.GetByIdempotencyKey(ctx, m.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("re-read idempotency key winner: %w", err)
	}
	metrics.IdempotentHitsTotal.Inc()
	return winner, false, nil
}
