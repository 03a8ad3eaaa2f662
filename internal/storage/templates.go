package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

const templateColumns = `name, revision, description, subject_template, html_template,
	html_markdown, text_template, required_vars, tags, content_policy,
	source_hash, is_active, created_at, updated_at`

// beginner is satisfied by *pgxpool.Pool and pgx.Tx (as a savepoint).
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TemplateStore is the PostgreSQL mail.TemplateStore.
type TemplateStore struct {
	db  DBTX
	now func() time.Time
	// lock makes reads take row locks; set on transaction-bound stores.
	lock bool
}

var _ mq.TemplateStore = (*TemplateStore)(nil)

// NewTemplateStore creates a TemplateStore over db. WithinTx requires db to
// be able to begin a transaction.
func NewTemplateStore(db DBTX) *TemplateStore {
	return &TemplateStore{db: db, now: time.Now}
}

func (s *TemplateStore) GetActive(ctx context.Context, name string) (*mq.Template, error) {
	t, err := s.get(ctx, name)
	if err != nil {
		return nil, err
	}
	if t == nil || !t.IsActive {
		return nil, mq.ErrTemplateNotFound
	}
	return t, nil
}

func (s *TemplateStore) GetAny(ctx context.Context, name string) (*mq.Template, error) {
	return s.get(ctx, name)
}

func (s *TemplateStore) get(ctx context.Context, name string) (*mq.Template, error) {
	var (
		t          mq.Template
		html, text *string
	)
	query := `SELECT ` + templateColumns + ` FROM email_templates WHERE name = $1`
	if s.lock {
		query += ` FOR UPDATE`
	}
	err := s.db.QueryRow(ctx, query, name).Scan(
		&t.Name, &t.Revision, &t.Description, &t.SubjectTemplate, &html,
		&t.HTMLMarkdown, &text, &t.RequiredVars, &t.Tags, &t.ContentPolicy,
		&t.SourceHash, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template %q: %w", name, err)
	}
	t.HTMLTemplate = deref(html)
	t.TextTemplate = deref(text)
	return &t, nil
}

// Upsert inserts t or replaces the stored row for t.Name, keeping its
// created_at. A stored row with the same or a higher revision is left alone;
// unless it is the identical revision, that is a *mail.SyncConflictError.
func (s *TemplateStore) Upsert(ctx context.Context, t *mq.Template) error {
	policy := t.ContentPolicy
	if policy == nil {
		policy = map[string]any{}
	}
	now := s.now().UTC()

	tag, err := s.db.Exec(ctx, `
		INSERT INTO email_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		ON CONFLICT (name) DO UPDATE SET
			revision = EXCLUDED.revision,
			description = EXCLUDED.description,
			subject_template = EXCLUDED.subject_template,
			html_template = EXCLUDED.html_template,
			html_markdown = EXCLUDED.html_markdown,
			text_template = EXCLUDED.text_template,
			required_vars = EXCLUDED.required_vars,
			tags = EXCLUDED.tags,
			content_policy = EXCLUDED.content_policy,
			source_hash = EXCLUDED.source_hash,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		WHERE email_templates.revision < EXCLUDED.revision`,
		t.Name, t.Revision, t.Description, t.SubjectTemplate, nullString(t.HTMLTemplate),
		t.HTMLMarkdown, nullString(t.TextTemplate), nonNil(t.RequiredVars), nonNil(t.Tags), policy,
		t.SourceHash, t.IsActive, now,
	)
	if err != nil {
		return fmt.Errorf("upsert template %q: %w", t.Name, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	stored, err := s.get(ctx, t.Name)
	if err != nil {
		return fmt.Errorf("upsert template %q: %w", t.Name, err)
	}
	if stored != nil && stored.Revision == t.Revision && stored.SourceHash == t.SourceHash {
		return nil
	}
	conflict := &mq.SyncConflictError{Name: t.Name, NewRevision: t.Revision, Reason: "stored revision is not lower"}
	if stored != nil {
		conflict.StoredRevision = stored.Revision
	}
	return conflict
}

// WithinTx runs fn against a store bound to one transaction.
func (s *TemplateStore) WithinTx(ctx context.Context, fn func(mq.TemplateStore) error) error {
	b, ok := s.db.(beginner)
	if !ok {
		return errors.New("template store: transactions not supported by this connection")
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin template tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(&TemplateStore{db: tx, now: s.now, lock: true}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit template tx: %w", err)
	}
	return nil
}
