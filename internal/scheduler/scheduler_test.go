package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/queue"
)

type fakeEngine struct {
	mu        sync.Mutex
	due       []*mq.Message
	sendErr   error
	sent      []uuid.UUID
	stale     []uuid.UUID
	staleAge  time.Duration
	cleaned   int64
	retention time.Duration
}

func (e *fakeEngine) ListDue(_ context.Context, _ time.Time, limit int) ([]*mq.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit > 0 && len(e.due) > limit {
		return e.due[:limit], nil
	}
	return e.due, nil
}

func (e *fakeEngine) SendNow(_ context.Context, id uuid.UUID) (*mq.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sendErr != nil {
		return nil, e.sendErr
	}
	e.sent = append(e.sent, id)
	return &mq.Message{ID: id, Status: mq.StatusSent}, nil
}

func (e *fakeEngine) RecoverStale(_ context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	e.staleAge = olderThan
	return e.stale, nil
}

func (e *fakeEngine) CleanupSent(_ context.Context, retention time.Duration) (int64, error) {
	e.retention = retention
	return e.cleaned, nil
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	err  error
	jobs []*queue.Job
}

func (q *fakeEnqueuer) Enqueue(_ context.Context, job *queue.Job) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, job)
	return "1-0", nil
}

func setupLocker(t *testing.T) *RedisLocker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, "test:")
}

func dueMessages(n int) []*mq.Message {
	next := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	out := make([]*mq.Message, n)
	for i := range out {
		out[i] = &mq.Message{ID: uuid.New(), Status: mq.StatusQueued, NextAttemptAt: &next}
	}
	return out
}

func newTestScheduler(t *testing.T, eng Engine, enq queue.Enqueuer, locker Locker) *Scheduler {
	t.Helper()
	s, err := New(DefaultConfig(), eng, enq, locker, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNew_InvalidSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DueSpec = "every now and then"
	if _, err := New(cfg, &fakeEngine{}, nil, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestNew_RetentionDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention = 0
	cfg.CleanupSpec = "not parsed when cleanup is off"
	s, err := New(cfg, &fakeEngine{}, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := len(s.cron.Entries()); got != 2 {
		t.Errorf("scheduled %d jobs, want 2", got)
	}
}

func TestDispatchDue_Inline(t *testing.T) {
	eng := &fakeEngine{due: dueMessages(3)}
	s := newTestScheduler(t, eng, nil, nil)

	n, err := s.DispatchDue(context.Background())
	if err != nil {
		t.Fatalf("DispatchDue() error = %v", err)
	}
	if n != 3 || len(eng.sent) != 3 {
		t.Errorf("dispatched %d, sent %d; want 3", n, len(eng.sent))
	}
}

func TestDispatchDue_InlineSendErrors(t *testing.T) {
	eng := &fakeEngine{due: dueMessages(2), sendErr: errors.New("db down")}
	s := newTestScheduler(t, eng, nil, nil)

	n, err := s.DispatchDue(context.Background())
	if err == nil {
		t.Fatal("expected joined send errors")
	}
	if n != 0 {
		t.Errorf("dispatched %d, want 0", n)
	}
}

func TestDispatchDue_QueueDeduplicates(t *testing.T) {
	eng := &fakeEngine{due: dueMessages(2)}
	enq := &fakeEnqueuer{}
	s := newTestScheduler(t, eng, enq, setupLocker(t))
	ctx := context.Background()

	n, err := s.DispatchDue(ctx)
	if err != nil || n != 2 {
		t.Fatalf("first DispatchDue() = %d, %v; want 2, nil", n, err)
	}

	// Still due on the next tick, but already queued for this attempt.
	n, err = s.DispatchDue(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second DispatchDue() = %d, %v; want 0, nil", n, err)
	}

	// A rescheduled attempt is queued again.
	later := eng.due[0].NextAttemptAt.Add(time.Minute)
	eng.due[0].NextAttemptAt = &later
	n, err = s.DispatchDue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("third DispatchDue() = %d, %v; want 1, nil", n, err)
	}

	if len(enq.jobs) != 3 {
		t.Fatalf("enqueued %d jobs, want 3", len(enq.jobs))
	}
	if enq.jobs[2].MessageID != eng.due[0].ID.String() {
		t.Errorf("requeued %s, want %s", enq.jobs[2].MessageID, eng.due[0].ID)
	}
}

func TestDispatchDue_EnqueueFailureReleasesMarker(t *testing.T) {
	eng := &fakeEngine{due: dueMessages(1)}
	enq := &fakeEnqueuer{err: errors.New("broker down")}
	s := newTestScheduler(t, eng, enq, setupLocker(t))
	ctx := context.Background()

	if _, err := s.DispatchDue(ctx); err == nil {
		t.Fatal("expected enqueue error")
	}

	enq.err = nil
	n, err := s.DispatchDue(ctx)
	if err != nil || n != 1 {
		t.Errorf("retry DispatchDue() = %d, %v; want 1, nil", n, err)
	}
}

func TestRecoverStaleAndCleanup(t *testing.T) {
	eng := &fakeEngine{stale: []uuid.UUID{uuid.New()}, cleaned: 4}
	s := newTestScheduler(t, eng, nil, nil)
	ctx := context.Background()

	n, err := s.RecoverStale(ctx)
	if err != nil || n != 1 {
		t.Errorf("RecoverStale() = %d, %v; want 1, nil", n, err)
	}
	if eng.staleAge != 10*time.Minute {
		t.Errorf("stale age = %v, want 10m", eng.staleAge)
	}

	deleted, err := s.Cleanup(ctx)
	if err != nil || deleted != 4 {
		t.Errorf("Cleanup() = %d, %v; want 4, nil", deleted, err)
	}
	if eng.retention != 30*24*time.Hour {
		t.Errorf("retention = %v, want 720h", eng.retention)
	}
}

func TestRun_SkipsWhenLockHeld(t *testing.T) {
	locker := setupLocker(t)
	s := newTestScheduler(t, &fakeEngine{}, nil, locker)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "job:"+JobDispatchDue, time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}

	calls := 0
	fn := func(context.Context) error { calls++; return nil }
	s.run(ctx, JobDispatchDue, fn)
	if calls != 0 {
		t.Fatalf("job ran %d times while locked elsewhere", calls)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release() error = %v", err)
	}
	s.run(ctx, JobDispatchDue, fn)
	s.run(ctx, JobDispatchDue, fn)
	if calls != 2 {
		t.Errorf("job ran %d times, want 2", calls)
	}
}

func TestDispatchDue_LocalLockerDeduplicates(t *testing.T) {
	eng := &fakeEngine{due: dueMessages(2)}
	enq := &fakeEnqueuer{}
	s := newTestScheduler(t, eng, enq, nil)
	ctx := context.Background()

	for i, want := range []int{2, 0, 0} {
		n, err := s.DispatchDue(ctx)
		if err != nil || n != want {
			t.Fatalf("DispatchDue() #%d = %d, %v; want %d, nil", i+1, n, err, want)
		}
	}
	if len(enq.jobs) != 2 {
		t.Errorf("enqueued %d jobs, want 2", len(enq.jobs))
	}
}

func TestLocalLocker(t *testing.T) {
	l := newLocalLocker()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock() = %v, %v; want true", ok, err)
	}
	if _, ok, _ := l.TryLock(ctx, "k", time.Minute); ok {
		t.Fatal("second TryLock() granted a held key")
	}

	now = now.Add(2 * time.Minute)
	release2, ok, _ := l.TryLock(ctx, "k", time.Minute)
	if !ok {
		t.Fatal("TryLock() after expiry = false, want true")
	}
	// A stale release must not free the new holder's key.
	if err := release(ctx); err != nil {
		t.Fatalf("release() error = %v", err)
	}
	if _, ok, _ := l.TryLock(ctx, "k", time.Minute); ok {
		t.Fatal("stale release freed the key")
	}
	if err := release2(ctx); err != nil {
		t.Fatalf("release() error = %v", err)
	}
	if _, ok, _ := l.TryLock(ctx, "k", time.Minute); !ok {
		t.Error("TryLock() after release = false, want true")
	}
}

func TestRedisLocker(t *testing.T) {
	locker := setupLocker(t)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock() = %v, %v; want true", ok, err)
	}
	if _, ok, err := locker.TryLock(ctx, "k", time.Minute); err != nil || ok {
		t.Fatalf("second TryLock() = %v, %v; want false", ok, err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release() error = %v", err)
	}

	release2, ok, err := locker.TryLock(ctx, "k", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock() after release = %v, %v; want true", ok, err)
	}
	// A stale release from the first holder must not free the new holder's key.
	if err := release(ctx); err != nil {
		t.Fatalf("stale release() error = %v", err)
	}
	if _, ok, _ := locker.TryLock(ctx, "k", time.Minute); ok {
		t.Error("stale release freed a key it no longer owned")
	}
	_ = release2(ctx)
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(t, &fakeEngine{}, nil, nil)
	s.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
