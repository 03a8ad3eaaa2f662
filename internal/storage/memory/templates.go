package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// TemplateStore is an in-memory mail.TemplateStore. WithinTx serializes
// transactions and applies their writes only on success.
type TemplateStore struct {
	mu     sync.Mutex
	byName map[string]*mq.Template
	now    func() time.Time
}

var _ mq.TemplateStore = (*TemplateStore)(nil)

// NewTemplateStore creates an empty TemplateStore.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{byName: make(map[string]*mq.Template), now: time.Now}
}

func (s *TemplateStore) GetActive(ctx context.Context, name string) (*mq.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return templateView{s: s, rows: s.byName}.GetActive(ctx, name)
}

func (s *TemplateStore) GetAny(ctx context.Context, name string) (*mq.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return templateView{s: s, rows: s.byName}.GetAny(ctx, name)
}

func (s *TemplateStore) Upsert(ctx context.Context, t *mq.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return templateView{s: s, rows: s.byName}.Upsert(ctx, t)
}

func (s *TemplateStore) WithinTx(ctx context.Context, fn func(mq.TemplateStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := maps.Clone(s.byName)
	if err := fn(templateView{s: s, rows: staged}); err != nil {
		return err
	}
	s.byName = staged
	return nil
}

// templateView operates on rows without locking; the owning store holds mu.
type templateView struct {
	s    *TemplateStore
	rows map[string]*mq.Template
}

func (v templateView) GetActive(_ context.Context, name string) (*mq.Template, error) {
	t, ok := v.rows[name]
	if !ok || !t.IsActive {
		return nil, mq.ErrTemplateNotFound
	}
	return cloneTemplate(t), nil
}

func (v templateView) GetAny(_ context.Context, name string) (*mq.Template, error) {
	t, ok := v.rows[name]
	if !ok {
		return nil, nil
	}
	return cloneTemplate(t), nil
}

func (v templateView) Upsert(_ context.Context, t *mq.Template) error {
	now := v.s.now()
	c := cloneTemplate(t)
	c.CreatedAt = now
	if prev, ok := v.rows[t.Name]; ok {
		if prev.Revision == t.Revision && prev.SourceHash == t.SourceHash {
			return nil
		}
		if prev.Revision >= t.Revision {
			return &mq.SyncConflictError{
				Name:           t.Name,
				StoredRevision: prev.Revision,
				NewRevision:    t.Revision,
				Reason:         "stored revision is not lower",
			}
		}
		c.CreatedAt = prev.CreatedAt
	}
	c.UpdatedAt = now
	v.rows[t.Name] = c
	return nil
}

func (v templateView) WithinTx(ctx context.Context, fn func(mq.TemplateStore) error) error {
	return fn(v)
}

func cloneTemplate(t *mq.Template) *mq.Template {
	c := *t
	c.RequiredVars = append([]string(nil), t.RequiredVars...)
	c.Tags = append([]string(nil), t.Tags...)
	c.ContentPolicy = maps.Clone(t.ContentPolicy)
	return &c
}
