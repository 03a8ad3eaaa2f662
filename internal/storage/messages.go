package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

const messageColumns = `id, idempotency_key, from_email, to_addrs, cc_addrs, bcc_addrs,
	template_name, template_revision, subject, html_body, text_body,
	status, provider, attempt_count, max_attempts, next_attempt_at,
	last_error_message, provider_message_id, created_at, updated_at, sent_at`

// MessageStore is the PostgreSQL mail.MessageStore.
type MessageStore struct {
	db DBTX
}

var _ mq.MessageStore = (*MessageStore)(nil)

// NewMessageStore creates a MessageStore over db.
func NewMessageStore(db DBTX) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Create(ctx context.Context, m *mq.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO email_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		        $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		m.ID, nullString(m.IdempotencyKey), m.FromEmail,
		nonNil(m.To), nonNil(m.Cc), nonNil(m.Bcc),
		nullString(m.TemplateName), nullInt(m.TemplateRevision),
		m.Subject, nullString(m.HTMLBody), nullString(m.TextBody),
		string(m.Status), m.Provider, m.AttemptCount, m.MaxAttempts, m.NextAttemptAt,
		nullString(m.LastErrorMessage), nullString(m.ProviderMessageID),
		m.CreatedAt, m.UpdatedAt, m.SentAt,
	)
	if isUniqueViolation(err) {
		return mq.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MessageStore) Get(ctx context.Context, id uuid.UUID) (*mq.Message, error) {
	row := s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM email_messages WHERE id = $1`, id)
	return scanOne(row)
}

func (s *MessageStore) GetByIdempotencyKey(ctx context.Context, key string) (*mq.Message, error) {
	row := s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM email_messages WHERE idempotency_key = $1`, key)
	return scanOne(row)
}

// ClaimForSending flips the status only while the row is still pending, so
// exactly one concurrent caller gets claimed=true.
func (s *MessageStore) ClaimForSending(ctx context.Context, id uuid.UUID, now time.Time) (*mq.Message, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE email_messages
		SET status = 'SENDING', updated_at = $2
		WHERE id = $1 AND status IN ('QUEUED', 'RETRYING')
		RETURNING `+messageColumns, id, now)
	m, err := scanOne(row)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, mq.ErrMessageNotFound) {
		return nil, false, fmt.Errorf("claim message: %w", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *MessageStore) UpdateStatus(ctx context.Context, id uuid.UUID, u mq.StatusUpdate, now time.Time) (*mq.Message, bool, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE email_messages
		SET status = $2, attempt_count = $3, next_attempt_at = $4,
		    last_error_message = $5, provider_message_id = $6, sent_at = $7,
		    updated_at = $8
		WHERE id = $1 AND status = 'SENDING' AND updated_at = $9
		RETURNING `+messageColumns,
		id, string(u.Status), u.AttemptCount, u.NextAttemptAt,
		nullString(u.LastErrorMessage), nullString(u.ProviderMessageID), u.SentAt, now, u.ClaimedAt)
	m, err := scanOne(row)
	if err == nil {
		return m, true, nil
	}
	if !errors.Is(err, mq.ErrMessageNotFound) {
		return nil, false, fmt.Errorf("update message status: %w", err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (s *MessageStore) QueryDue(ctx context.Context, now time.Time, limit int) ([]*mq.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` FROM email_messages
		WHERE status IN ('QUEUED', 'RETRYING') AND next_attempt_at <= $1
		ORDER BY next_attempt_at, created_at
		LIMIT $2`, now, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query due messages: %w", err)
	}
	return scanAll(rows)
}

func (s *MessageStore) RequeueStale(ctx context.Context, cutoff, now time.Time, reason string) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE email_messages
		SET status = 'RETRYING', next_attempt_at = $2, last_error_message = $3, updated_at = $2
		WHERE status = 'SENDING' AND updated_at < $1
		RETURNING id`, cutoff, now, reason)
	if err != nil {
		return nil, fmt.Errorf("requeue stale messages: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("requeue stale messages: %w", err)
	}
	return ids, nil
}

func (s *MessageStore) ListSentBefore(ctx context.Context, cutoff time.Time, limit int) ([]*mq.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` FROM email_messages
		WHERE status = 'SENT' AND sent_at <= $1
		ORDER BY sent_at
		LIMIT $2`, cutoff, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sent messages: %w", err)
	}
	return scanAll(rows)
}

func (s *MessageStore) Delete(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM email_messages WHERE id = ANY($1::uuid[])`, strs)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *MessageStore) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM email_messages WHERE status = 'SENT' AND sent_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete sent messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List returns messages newest first.
func (s *MessageStore) List(ctx context.Context, f mq.ListFilter) ([]*mq.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+` FROM email_messages
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY created_at DESC
		LIMIT $2`, string(f.Status), sqlLimit(f.Limit))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return scanAll(rows)
}

func scanMessage(row pgx.Row) (*mq.Message, error) {
	var (
		m                                       mq.Message
		key, tmplName, html, text, lastErr, pid *string
		tmplRev                                 *int
		status                                  string
	)
	err := row.Scan(
		&m.ID, &key, &m.FromEmail, &m.To, &m.Cc, &m.Bcc,
		&tmplName, &tmplRev, &m.Subject, &html, &text,
		&status, &m.Provider, &m.AttemptCount, &m.MaxAttempts, &m.NextAttemptAt,
		&lastErr, &pid, &m.CreatedAt, &m.UpdatedAt, &m.SentAt,
	)
	if err != nil {
		return nil, err
	}

	m.Status = mq.Status(status)
	m.IdempotencyKey = deref(key)
	m.TemplateName = deref(tmplName)
	if tmplRev != nil {
		m.TemplateRevision = *tmplRev
	}
	m.HTMLBody = deref(html)
	m.TextBody = deref(text)
	m.LastErrorMessage = deref(lastErr)
	m.ProviderMessageID = deref(pid)
	return &m, nil
}

func scanOne(row pgx.Row) (*mq.Message, error) {
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mq.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return m, nil
}

func scanAll(rows pgx.Rows) ([]*mq.Message, error) {
	defer rows.Close()
	var out []*mq.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// sqlLimit maps "no limit" to NULL, which LIMIT treats as unbounded.
func sqlLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
