package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

var base = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newMessage(status mq.Status, next *time.Time) *mq.Message {
	return &mq.Message{
		ID:            uuid.New(),
		FromEmail:     "noreply@example.com",
		To:            []string{"ana@example.com"},
		Subject:       "hi",
		TextBody:      "hello",
		Status:        status,
		MaxAttempts:   3,
		NextAttemptAt: next,
		CreatedAt:     base,
		UpdatedAt:     base,
	}
}

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func TestMessageStoreDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()

	first := newMessage(mq.StatusQueued, at(0))
	first.IdempotencyKey = "order-1"
	if err := s.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	second := newMessage(mq.StatusQueued, at(0))
	second.IdempotencyKey = "order-1"
	if err := s.Create(ctx, second); !errors.Is(err, mq.ErrDuplicateIdempotencyKey) {
		t.Fatalf("Create() duplicate error = %v, want ErrDuplicateIdempotencyKey", err)
	}

	got, err := s.GetByIdempotencyKey(ctx, "order-1")
	if err != nil {
		t.Fatalf("GetByIdempotencyKey() error = %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("GetByIdempotencyKey() id = %v, want %v", got.ID, first.ID)
	}
	if _, err := s.GetByIdempotencyKey(ctx, "other"); !errors.Is(err, mq.ErrMessageNotFound) {
		t.Errorf("GetByIdempotencyKey(other) error = %v, want ErrMessageNotFound", err)
	}
}

func TestMessageStoreClaimOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()
	m := newMessage(mq.StatusQueued, at(0))
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := s.ClaimForSending(ctx, m.ID, base)
			if err != nil {
				t.Errorf("ClaimForSending() error = %v", err)
			}
			if claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("claims won = %d, want 1", wins.Load())
	}
	got, _ := s.Get(ctx, m.ID)
	if got.Status != mq.StatusSending {
		t.Errorf("status = %s, want SENDING", got.Status)
	}
}

func TestMessageStoreQueryDue(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()

	late := newMessage(mq.StatusRetrying, at(-time.Minute))
	early := newMessage(mq.StatusQueued, at(-time.Hour))
	future := newMessage(mq.StatusQueued, at(time.Hour))
	sending := newMessage(mq.StatusSending, nil)
	sent := newMessage(mq.StatusSent, nil)
	exact := newMessage(mq.StatusQueued, at(0))

	for _, m := range []*mq.Message{late, future, sending, sent, exact, early} {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	due, err := s.QueryDue(ctx, base, 0)
	if err != nil {
		t.Fatalf("QueryDue() error = %v", err)
	}
	want := []uuid.UUID{early.ID, late.ID, exact.ID}
	if len(due) != len(want) {
		t.Fatalf("QueryDue() returned %d messages, want %d", len(due), len(want))
	}
	for i, id := range want {
		if due[i].ID != id {
			t.Errorf("QueryDue()[%d] = %v, want %v", i, due[i].ID, id)
		}
	}

	limited, _ := s.QueryDue(ctx, base, 2)
	if len(limited) != 2 {
		t.Errorf("QueryDue(limit 2) returned %d messages", len(limited))
	}
}

func TestMessageStoreRequeueStale(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()

	stale := newMessage(mq.StatusSending, nil)
	stale.AttemptCount = 1
	stale.UpdatedAt = base.Add(-20 * time.Minute)
	fresh := newMessage(mq.StatusSending, nil)
	fresh.UpdatedAt = base.Add(-time.Minute)
	for _, m := range []*mq.Message{stale, fresh} {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	ids, err := s.RequeueStale(ctx, base.Add(-10*time.Minute), base, "delivery interrupted")
	if err != nil {
		t.Fatalf("RequeueStale() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != stale.ID {
		t.Fatalf("RequeueStale() = %v, want [%v]", ids, stale.ID)
	}

	got, _ := s.Get(ctx, stale.ID)
	if got.Status != mq.StatusRetrying {
		t.Errorf("status = %s, want RETRYING", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", got.AttemptCount)
	}
	if got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(base) {
		t.Errorf("next_attempt_at = %v, want %v", got.NextAttemptAt, base)
	}
}

func TestMessageStoreUpdateStatusRequiresClaim(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()
	m := newMessage(mq.StatusQueued, at(0))
	if err := s.Create(ctx, m); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	claim, _, err := s.ClaimForSending(ctx, m.ID, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimForSending() error = %v", err)
	}

	tests := []struct {
		name        string
		claimedAt   time.Time
		wantApplied bool
		wantStatus  mq.Status
	}{
		{"other claim", base, false, mq.StatusSending},
		{"own claim", claim.UpdatedAt, true, mq.StatusSent},
		{"after terminal", claim.UpdatedAt, false, mq.StatusSent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applied, err := s.UpdateStatus(ctx, m.ID, mq.StatusUpdate{
				Status:       mq.StatusSent,
				AttemptCount: 1,
				ClaimedAt:    tt.claimedAt,
			}, base.Add(2*time.Minute))
			if err != nil {
				t.Fatalf("UpdateStatus() error = %v", err)
			}
			if applied != tt.wantApplied || got.Status != tt.wantStatus {
				t.Errorf("UpdateStatus() = %s applied=%v, want %s applied=%v",
					got.Status, applied, tt.wantStatus, tt.wantApplied)
			}
		})
	}
}

func TestMessageStoreDeleteSentBefore(t *testing.T) {
	ctx := context.Background()
	s := NewMessageStore()

	old := newMessage(mq.StatusSent, nil)
	old.SentAt = at(-48 * time.Hour)
	old.IdempotencyKey = "old"
	recent := newMessage(mq.StatusSent, nil)
	recent.SentAt = at(-time.Hour)
	failed := newMessage(mq.StatusFailed, nil)
	for _, m := range []*mq.Message{old, recent, failed} {
		if err := s.Create(ctx, m); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	n, err := s.DeleteSentBefore(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteSentBefore() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteSentBefore() = %d, want 1", n)
	}
	if _, err := s.Get(ctx, old.ID); !errors.Is(err, mq.ErrMessageNotFound) {
		t.Errorf("Get(old) error = %v, want ErrMessageNotFound", err)
	}
	if _, err := s.GetByIdempotencyKey(ctx, "old"); !errors.Is(err, mq.ErrMessageNotFound) {
		t.Errorf("idempotency key of deleted message still resolves")
	}
}

func TestTemplateStoreWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewTemplateStore()

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx mq.TemplateStore) error {
		if err := tx.Upsert(ctx, &mq.Template{Name: "welcome", Revision: 1, IsActive: true}); err != nil {
			return err
		}
		if got, _ := tx.GetAny(ctx, "welcome"); got == nil {
			t.Error("write not visible inside transaction")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx() error = %v, want boom", err)
	}
	if got, _ := s.GetAny(ctx, "welcome"); got != nil {
		t.Errorf("GetAny() after rollback = %+v, want nil", got)
	}
}

func TestTemplateStoreUpsertRevisions(t *testing.T) {
	ctx := context.Background()
	s := NewTemplateStore()
	if err := s.Upsert(ctx, &mq.Template{Name: "welcome", Revision: 2, SourceHash: "b"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	tests := []struct {
		name     string
		revision int
		hash     string
		conflict bool
	}{
		{"identical revision", 2, "b", false},
		{"same revision new content", 2, "c", true},
		{"lower revision", 1, "a", true},
		{"higher revision", 3, "d", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Upsert(ctx, &mq.Template{Name: "welcome", Revision: tt.revision, SourceHash: tt.hash})
			var conflict *mq.SyncConflictError
			if got := errors.As(err, &conflict); got != tt.conflict {
				t.Errorf("Upsert() error = %v, want conflict %v", err, tt.conflict)
			}
		})
	}
	if got, _ := s.GetAny(ctx, "welcome"); got.Revision != 3 || got.SourceHash != "d" {
		t.Errorf("stored r%d %s, want r3 d", got.Revision, got.SourceHash)
	}
}

func TestTemplateStoreGetActive(t *testing.T) {
	ctx := context.Background()
	s := NewTemplateStore()
	_ = s.Upsert(ctx, &mq.Template{Name: "old", Revision: 1, IsActive: false})

	if _, err := s.GetActive(ctx, "old"); !errors.Is(err, mq.ErrTemplateNotFound) {
		t.Errorf("GetActive(inactive) error = %v, want ErrTemplateNotFound", err)
	}
	if _, err := s.GetActive(ctx, "missing"); !errors.Is(err, mq.ErrTemplateNotFound) {
		t.Errorf("GetActive(missing) error = %v, want ErrTemplateNotFound", err)
	}
}

func TestSuppressionStoreNormalizes(t *testing.T) {
	ctx := context.Background()
	s := NewSuppressionStore()

	if err := s.Add(ctx, &mq.Suppression{Email: " Ana@Example.com", Reason: mq.ReasonBounce}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	ok, err := s.IsSuppressed(ctx, "ANA@example.COM")
	if err != nil || !ok {
		t.Errorf("IsSuppressed() = %v, %v, want true", ok, err)
	}
	if err := s.Remove(ctx, "ana@example.com"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove(ctx, "ana@example.com"); !errors.Is(err, mq.ErrSuppressionNotFound) {
		t.Errorf("Remove() twice error = %v, want ErrSuppressionNotFound", err)
	}
}
