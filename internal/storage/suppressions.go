package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// SuppressionStore is the PostgreSQL mail.SuppressionStore.
type SuppressionStore struct {
	db DBTX
}

var _ mq.SuppressionStore = (*SuppressionStore)(nil)

// NewSuppressionStore creates a SuppressionStore over db.
func NewSuppressionStore(db DBTX) *SuppressionStore {
	return &SuppressionStore{db: db}
}

func (s *SuppressionStore) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var found bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM email_suppressions WHERE email = $1)`,
		mq.NormalizeEmail(email),
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return found, nil
}

func (s *SuppressionStore) Add(ctx context.Context, e *mq.Suppression) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO email_suppressions (email, reason, provider, metadata, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5::timestamptz, NOW()))
		ON CONFLICT (email) DO UPDATE SET
			reason = EXCLUDED.reason,
			provider = EXCLUDED.provider,
			metadata = EXCLUDED.metadata`,
		mq.NormalizeEmail(e.Email), string(e.Reason), nullString(e.Provider), meta, nullTime(e),
	)
	if err != nil {
		return fmt.Errorf("add suppression: %w", err)
	}
	return nil
}

func (s *SuppressionStore) Remove(ctx context.Context, email string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM email_suppressions WHERE email = $1`, mq.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mq.ErrSuppressionNotFound
	}
	return nil
}

func (s *SuppressionStore) Get(ctx context.Context, email string) (*mq.Suppression, error) {
	row := s.db.QueryRow(ctx, `
		SELECT email, reason, provider, metadata, created_at
		FROM email_suppressions WHERE email = $1`, mq.NormalizeEmail(email))
	e, err := scanSuppression(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mq.ErrSuppressionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suppression: %w", err)
	}
	return e, nil
}

// List returns entries ordered by email. limit <= 0 means no limit.
func (s *SuppressionStore) List(ctx context.Context, limit int) ([]*mq.Suppression, error) {
	rows, err := s.db.Query(ctx, `
		SELECT email, reason, provider, metadata, created_at
		FROM email_suppressions ORDER BY email LIMIT $1`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []*mq.Suppression
	for rows.Next() {
		e, err := scanSuppression(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanSuppression(row pgx.Row) (*mq.Suppression, error) {
	var (
		e        mq.Suppression
		reason   string
		provider *string
	)
	if err := row.Scan(&e.Email, &reason, &provider, &e.Metadata, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Reason = mq.SuppressionReason(reason)
	e.Provider = deref(provider)
	return &e, nil
}

func nullTime(e *mq.Suppression) any {
	if e.CreatedAt.IsZero() {
		return nil
	}
	return e.CreatedAt
}
