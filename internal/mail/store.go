package mail

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageStore persists messages. Implementations must enforce uniqueness of
// non-empty idempotency keys and return ErrDuplicateIdempotencyKey from
// Create when it is violated.
type MessageStore interface {
	Create(ctx context.Context, m *Message) error
	Get(ctx context.Context, id uuid.UUID) (*Message, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Message, error)

	// ClaimForSending moves a QUEUED or RETRYING message to SENDING in one
	// conditional write. claimed is false when another writer got there
	// first; the current row is returned either way.
	ClaimForSending(ctx context.Context, id uuid.UUID, now time.Time) (m *Message, claimed bool, err error)

	// UpdateStatus records a finished attempt only while the message is still
	// SENDING under the claim stamped u.ClaimedAt. Otherwise applied is false
	// and the current row is returned unchanged.
	UpdateStatus(ctx context.Context, id uuid.UUID, u StatusUpdate, now time.Time) (m *Message, applied bool, err error)

	// QueryDue returns QUEUED and RETRYING messages with next_attempt_at at or
	// before now, oldest first. limit <= 0 means no limit.
	QueryDue(ctx context.Context, now time.Time, limit int) ([]*Message, error)

	// RequeueStale moves SENDING messages last updated before cutoff back to
	// RETRYING, due at now.
	RequeueStale(ctx context.Context, cutoff, now time.Time, reason string) ([]uuid.UUID, error)

	ListSentBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Message, error)
	Delete(ctx context.Context, ids []uuid.UUID) (int64, error)
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)

	List(ctx context.Context, f ListFilter) ([]*Message, error)
}

// TemplateStore persists templates keyed by name.
type TemplateStore interface {
	// GetActive returns ErrTemplateNotFound for missing or inactive names.
	GetActive(ctx context.Context, name string) (*Template, error)
	// GetAny returns nil, nil when the name was never published.
	GetAny(ctx context.Context, name string) (*Template, error)
	// Upsert writes t when the name is new or stored at a lower revision.
	// Writing an identical revision again is a no-op; any other write
	// returns a *SyncConflictError.
	Upsert(ctx context.Context, t *Template) error
	// WithinTx runs fn against a store bound to one transaction. The
	// transaction commits only if fn returns nil.
	WithinTx(ctx context.Context, fn func(TemplateStore) error) error
}

// SuppressionStore persists suppressions keyed by normalized email.
type SuppressionStore interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
	// Add inserts or replaces the entry for s.Email.
	Add(ctx context.Context, s *Suppression) error
	Remove(ctx context.Context, email string) error
	Get(ctx context.Context, email string) (*Suppression, error)
	List(ctx context.Context, limit int) ([]*Suppression, error)
}
