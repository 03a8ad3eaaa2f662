//go:build integration

package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/storage"
)

func newMessage(key string, now time.Time) *mq.Message {
	return &mq.Message{
		ID:             uuid.New(),
		IdempotencyKey: key,
		FromEmail:      "noreply@example.com",
		To:             []string{"ana@example.com"},
		Subject:        "Hello",
		TextBody:       "Hi",
		Status:         mq.StatusQueued,
		Provider:       "stdout",
		MaxAttempts:    3,
		NextAttemptAt:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMessageStore_CreateAndDuplicateKey(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := storage.NewMessageStore(sharedDB.Pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	m := newMessage("order-1", now)
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := store.Create(ctx, newMessage("order-1", now))
	if !errors.Is(err, mq.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	got, err := store.GetByIdempotencyKey(ctx, "order-1")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if got.ID != m.ID || got.Status != mq.StatusQueued || len(got.Cc) != 0 {
		t.Errorf("unexpected message: %+v", got)
	}

	// Raw sends without a key never collide.
	for range 2 {
		if err := store.Create(ctx, newMessage("", now)); err != nil {
			t.Fatalf("create without key: %v", err)
		}
	}
}

func TestMessageStore_GetMissing(t *testing.T) {
	resetTables(t)
	store := storage.NewMessageStore(sharedDB.Pool)

	_, err := store.Get(context.Background(), uuid.New())
	if !errors.Is(err, mq.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestMessageStore_ClaimIsExclusive(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := storage.NewMessageStore(sharedDB.Pool)
	now := time.Now().UTC()

	m := newMessage("", now)
	if err := store.Create(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, claimed, err := store.ClaimForSending(ctx, m.ID, now)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	if got.Status != mq.StatusSending {
		t.Errorf("status = %s, want SENDING", got.Status)
	}

	got, claimed, err = store.ClaimForSending(ctx, m.ID, now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Fatal("second claim should lose")
	}
	if got.Status != mq.StatusSending {
		t.Errorf("current status = %s, want SENDING", got.Status)
	}
}

func TestMessageStore_DueStaleAndCleanup(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := storage.NewMessageStore(sharedDB.Pool)
	now := time.Now().UTC()

	due := newMessage("", now.Add(-time.Minute))
	later := newMessage("", now)
	future := now.Add(time.Hour)
	later.NextAttemptAt = &future
	for _, m := range []*mq.Message{due, later} {
		if err := store.Create(ctx, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := store.QueryDue(ctx, now, 0)
	if err != nil {
		t.Fatalf("query due: %v", err)
	}
	if len(list) != 1 || list[0].ID != due.ID {
		t.Fatalf("expected only the due message, got %d", len(list))
	}

	stale, _, err := store.ClaimForSending(ctx, due.ID, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	ids, err := store.RequeueStale(ctx, now.Add(-30*time.Minute), now, "stale")
	if err != nil {
		t.Fatalf("requeue stale: %v", err)
	}
	if len(ids) != 1 || ids[0] != due.ID {
		t.Fatalf("expected %s requeued, got %v", due.ID, ids)
	}
	got, _ := store.Get(ctx, due.ID)
	if got.Status != mq.StatusRetrying || got.LastErrorMessage != "stale" {
		t.Errorf("unexpected requeued message: %+v", got)
	}

	reclaimed, ok, err := store.ClaimForSending(ctx, due.ID, now)
	if err != nil || !ok {
		t.Fatalf("reclaim: ok=%v err=%v", ok, err)
	}
	sentAt := now.Add(-48 * time.Hour)
	got, applied, err := store.UpdateStatus(ctx, due.ID, mq.StatusUpdate{
		Status:       mq.StatusSent,
		AttemptCount: 1,
		SentAt:       &sentAt,
		ClaimedAt:    reclaimed.UpdatedAt,
	}, now)
	if err != nil || !applied {
		t.Fatalf("update status: applied=%v err=%v", applied, err)
	}
	if got.Status != mq.StatusSent {
		t.Errorf("status = %s, want SENT", got.Status)
	}

	// The attempt running under the first claim finishes late.
	got, applied, err = store.UpdateStatus(ctx, due.ID, mq.StatusUpdate{
		Status:       mq.StatusRetrying,
		AttemptCount: 1,
		ClaimedAt:    stale.UpdatedAt,
	}, now)
	if err != nil {
		t.Fatalf("late update: %v", err)
	}
	if applied || got.Status != mq.StatusSent {
		t.Errorf("late update applied=%v status=%s, want SENT kept", applied, got.Status)
	}

	n, err := store.DeleteSentBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete sent: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
}

func TestTemplateStore_UpsertAndActive(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := storage.NewTemplateStore(sharedDB.Pool)

	tmpl := &mq.Template{
		Name:            "welcome",
		Revision:        1,
		SubjectTemplate: "Hi {{ name }}",
		TextTemplate:    "Hello {{ name }}",
		RequiredVars:    []string{"name"},
		SourceHash:      "abc",
		IsActive:        true,
	}
	if err := store.Upsert(ctx, tmpl); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetActive(ctx, "welcome")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if got.Revision != 1 || got.HTMLTemplate != "" || got.RequiredVars[0] != "name" {
		t.Errorf("unexpected template: %+v", got)
	}

	tmpl.Revision = 2
	tmpl.IsActive = false
	if err := store.Upsert(ctx, tmpl); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if _, err := store.GetActive(ctx, "welcome"); !errors.Is(err, mq.ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound for inactive template, got %v", err)
	}
	anyRev, err := store.GetAny(ctx, "welcome")
	if err != nil || anyRev == nil || anyRev.Revision != 2 {
		t.Fatalf("get any: %+v, %v", anyRev, err)
	}
	if !anyRev.CreatedAt.Equal(got.CreatedAt) {
		t.Errorf("created_at changed on upsert")
	}

	missing, err := store.GetAny(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown template, got %v, %v", missing, err)
	}
}

func TestTemplateStore_UpsertKeepsHigherRevision(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := storage.NewTemplateStore(sharedDB.Pool)

	tmpl := &mq.Template{Name: "welcome", Revision: 2, SubjectTemplate: "s", TextTemplate: "t", SourceHash: "h2", IsActive: true}
	if err := store.Upsert(ctx, tmpl); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Upsert(ctx, tmpl); err != nil {
		t.Errorf("identical upsert: %v", err)
	}

	var conflict *mq.SyncConflictError
	changed := *tmpl
	changed.SourceHash = "other"
	if err := store.Upsert(ctx, &changed); !errors.As(err, &conflict) || conflict.StoredRevision != 2 {
		t.Errorf("same revision upsert: %v, want conflict at r2", err)
	}
	lower := *tmpl
	lower.Revision = 1
	if err := store.Upsert(ctx, &lower); !errors.As(err, &conflict) {
		t.Errorf("lower revision upsert: %v, want conflict", err)
	}

	got, err := store.GetAny(ctx, "welcome")
	if err != nil || got.Revision != 2 || got.SourceHash != "h2" {
		t.Fatalf("stored = %+v, %v", got, err)
	}
}

func TestTemplateStore_WithinTxRollsBack(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := storage.NewTemplateStore(sharedDB.Pool)
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx mq.TemplateStore) error {
		if err := tx.Upsert(ctx, &mq.Template{
			Name: "a", Revision: 1, SubjectTemplate: "s", TextTemplate: "t", SourceHash: "h", IsActive: true,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got, _ := store.GetAny(ctx, "a"); got != nil {
		t.Error("template should not be visible after rollback")
	}
}

func TestSuppressionStore_Lifecycle(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := storage.NewSuppressionStore(sharedDB.Pool)

	err := store.Add(ctx, &mq.Suppression{
		Email:    " Ana@Example.com ",
		Reason:   mq.ReasonBounce,
		Provider: "sendgrid",
		Metadata: map[string]any{"event": "bounce"},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	ok, err := store.IsSuppressed(ctx, "ANA@example.com")
	if err != nil || !ok {
		t.Fatalf("expected suppressed, got %v, %v", ok, err)
	}

	if err := store.Add(ctx, &mq.Suppression{Email: "ana@example.com", Reason: mq.ReasonComplaint}); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	got, err := store.Get(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Reason != mq.ReasonComplaint || got.Provider != "" {
		t.Errorf("unexpected entry: %+v", got)
	}

	list, err := store.List(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %d, %v", len(list), err)
	}

	if err := store.Remove(ctx, "ana@example.com"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ctx, "ana@example.com"); !errors.Is(err, mq.ErrSuppressionNotFound) {
		t.Errorf("expected ErrSuppressionNotFound, got %v", err)
	}
}
