// Package scheduler runs the periodic maintenance of the message store: the
// due sweep that feeds delivery, recovery of interrupted attempts and the
// retention cleanup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/metrics"
	"github.com/sungwon/mailqueue/internal/queue"
)

// Job names, also used as lock keys and metric labels.
const (
	JobDispatchDue  = "dispatch_due"
	JobRecoverStale = "recover_stale"
	JobCleanup      = "cleanup"
)

const (
	jobLockTTL = 5 * time.Minute
	// dispatchDedupeTTL keeps a due message from being queued again on every
	// tick while it waits for a worker.
	dispatchDedupeTTL = 5 * time.Minute
)

// Engine is the part of the delivery engine the jobs drive.
type Engine interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*mq.Message, error)
	SendNow(ctx context.Context, id uuid.UUID) (*mq.Message, error)
	RecoverStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)
	CleanupSent(ctx context.Context, retention time.Duration) (int64, error)
}

// Config holds job schedules in cron syntax (descriptors such as
// "@every 10s" are accepted).
type Config struct {
	DueSpec     string `mapstructure:"due_spec"`
	StaleSpec   string `mapstructure:"stale_spec"`
	CleanupSpec string `mapstructure:"cleanup_spec"`
	BatchSize   int    `mapstructure:"batch_size"`

	// StaleAfter and Retention come from the delivery and retention
	// sections. A zero Retention disables the cleanup job.
	StaleAfter time.Duration `mapstructure:"-"`
	Retention  time.Duration `mapstructure:"-"`
}

// DefaultConfig returns the default schedules.
func DefaultConfig() Config {
	return Config{
		DueSpec:     "@every 10s",
		StaleSpec:   "@every 1m",
		CleanupSpec: "0 3 * * *",
		BatchSize:   500,
		StaleAfter:  10 * time.Minute,
		Retention:   30 * 24 * time.Hour,
	}
}

type job struct {
	name string
	spec string
	fn   func(context.Context) error
}

// Scheduler runs the jobs on their cron schedules.
type Scheduler struct {
	cfg      Config
	engine   Engine
	enqueuer queue.Enqueuer
	locker   Locker
	cron     *cron.Cron
	log      zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. A nil enqueuer sends due messages in-process; a
// nil locker keeps locks in memory and assumes this is the only replica.
func New(cfg Config, engine Engine, enqueuer queue.Enqueuer, locker Locker, log zerolog.Logger) (*Scheduler, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if locker == nil {
		locker = newLocalLocker()
	}

	cl := cronLogger{log: log}
	s := &Scheduler{
		cfg:      cfg,
		engine:   engine,
		enqueuer: enqueuer,
		locker:   locker,
		log:      log,
		now:      time.Now,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	jobs := []job{
		{JobDispatchDue, cfg.DueSpec, func(ctx context.Context) error { _, err := s.DispatchDue(ctx); return err }},
		{JobRecoverStale, cfg.StaleSpec, func(ctx context.Context) error { _, err := s.RecoverStale(ctx); return err }},
	}
	if cfg.Retention > 0 {
		jobs = append(jobs, job{JobCleanup, cfg.CleanupSpec, func(ctx context.Context) error { _, err := s.Cleanup(ctx); return err }})
	}

	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, func() { s.run(s.context(), j.name, j.fn) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
	}
	return s, nil
}

// Start begins running jobs. Jobs see a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().
		Str("due_spec", s.cfg.DueSpec).
		Str("stale_spec", s.cfg.StaleSpec).
		Str("cleanup_spec", s.cfg.CleanupSpec).
		Bool("inline", s.enqueuer == nil).
		Msg("scheduler started")
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-done.Done():
		s.log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// run executes fn under the job lock and records the outcome.
func (s *Scheduler) run(ctx context.Context, name string, fn func(context.Context) error) {
	log := s.log.With().Str("job", name).Logger()

	release, ok, err := s.locker.TryLock(ctx, "job:"+name, jobLockTTL)
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(name, "error").Inc()
		log.Error().Err(err).Msg("job lock failed")
		return
	}
	if !ok {
		metrics.JobRunsTotal.WithLabelValues(name, "skipped").Inc()
		log.Debug().Msg("job running elsewhere, skipped")
		return
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("job lock release failed")
		}
	}()

	start := time.Now()
	if err := fn(ctx); err != nil {
		metrics.JobRunsTotal.WithLabelValues(name, "error").Inc()
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
		return
	}
	metrics.JobRunsTotal.WithLabelValues(name, "ok").Inc()
	log.Debug().Dur("duration", time.Since(start)).Msg("job finished")
}

// DispatchDue hands every due message to the queue, or attempts it directly
// when there is no queue. It returns how many messages were handed off.
func (s *Scheduler) DispatchDue(ctx context.Context) (int, error) {
	due, err := s.engine.ListDue(ctx, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	metrics.QueueDepth.Set(float64(len(due)))

	var (
		dispatched int
		errs       []error
	)
	for _, m := range due {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		if s.enqueuer == nil {
			if _, err := s.engine.SendNow(ctx, m.ID); err != nil {
				errs = append(errs, fmt.Errorf("send %s: %w", m.ID, err))
				continue
			}
			dispatched++
			continue
		}

		sent, err := s.enqueue(ctx, m)
		if err != nil {
			errs = append(errs, err)
			break
		}
		if sent {
			dispatched++
		}
	}

	metrics.DueDispatchedTotal.Add(float64(dispatched))
	if dispatched > 0 {
		s.log.Info().Int("due", len(due)).Int("dispatched", dispatched).Msg("due messages dispatched")
	}
	return dispatched, errors.Join(errs...)
}

// enqueue queues m once per scheduled attempt.
func (s *Scheduler) enqueue(ctx context.Context, m *mq.Message) (bool, error) {
	key := "dispatch:" + m.ID.String()
	if m.NextAttemptAt != nil {
		key += ":" + strconv.FormatInt(m.NextAttemptAt.Unix(), 10)
	}

	release, ok, err := s.locker.TryLock(ctx, key, dispatchDedupeTTL)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if _, err := s.enqueuer.Enqueue(ctx, queue.NewJob(m.ID)); err != nil {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			s.log.Warn().Err(rerr).Stringer("message_id", m.ID).Msg("dispatch marker release failed")
		}
		return false, fmt.Errorf("enqueue %s: %w", m.ID, err)
	}
	return true, nil
}

// RecoverStale requeues messages stuck in SENDING past StaleAfter.
func (s *Scheduler) RecoverStale(ctx context.Context) (int, error) {
	ids, err := s.engine.RecoverStale(ctx, s.cfg.StaleAfter)
	return len(ids), err
}

// Cleanup removes SENT messages past retention.
func (s *Scheduler) Cleanup(ctx context.Context) (int64, error) {
	n, err := s.engine.CleanupSent(ctx, s.cfg.Retention)
	if n > 0 {
		s.log.Info().Int64("deleted", n).Dur("retention", s.cfg.Retention).Msg("sent messages cleaned up")
	}
	return n, err
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
