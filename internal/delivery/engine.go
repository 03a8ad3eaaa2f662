// Package delivery implements the message lifecycle: idempotent enqueue of
// template and raw sends, the SENDING claim, the attempt bookkeeping that
// drives RETRYING and FAILED, and the maintenance sweeps over the store.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/logger"
	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/metrics"
	"github.com/sungwon/mailqueue/internal/provider"
	"github.com/sungwon/mailqueue/internal/templates"
	"github.com/sungwon/mailqueue/internal/validate"
)

// StaleReason is recorded on messages moved out of an interrupted SENDING.
const StaleReason = "delivery interrupted"

// Config holds the engine's delivery policy.
type Config struct {
	DefaultFrom   string
	MaxAttempts   int
	RetrySchedule mq.RetrySchedule
	// CleanupBatch bounds each archive-then-delete round of CleanupSent.
	CleanupBatch int
}

// Validate checks the policy before the engine starts.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if err := c.RetrySchedule.Validate(); err != nil {
		return err
	}
	return nil
}

// TemplateRequest submits a stored template bound to a data context.
type TemplateRequest struct {
	TemplateName   string         `json:"template_name"`
	To             []string       `json:"to"`
	Context        map[string]any `json:"context"`
	IdempotencyKey string         `json:"idempotency_key"`
	Cc             []string       `json:"cc,omitempty"`
	Bcc            []string       `json:"bcc,omitempty"`
	FromEmail      string         `json:"from_email,omitempty"`
}

// RawRequest submits content directly.
type RawRequest struct {
	To             []string `json:"to"`
	Subject        string   `json:"subject"`
	HTML           string   `json:"html,omitempty"`
	Text           string   `json:"text,omitempty"`
	IdempotencyKey string   `json:"idempotency_key"`
	Cc             []string `json:"cc,omitempty"`
	Bcc            []string `json:"bcc,omitempty"`
	FromEmail      string   `json:"from_email,omitempty"`
}

// Archiver keeps a copy of a sent message before retention deletes it.
type Archiver interface {
	Archive(ctx context.Context, m *mq.Message) error
}

// Dispatcher hands a newly stored message to whatever performs its first
// attempt. A failed dispatch is not fatal; the due sweep picks the message up.
type Dispatcher interface {
	Dispatch(ctx context.Context, id uuid.UUID) error
}

// Engine owns every mutation of a message after it is created.
type Engine struct {
	messages     mq.MessageStore
	suppressions mq.SuppressionStore
	composer     *templates.Composer
	backend      provider.Backend
	idempotency  *IdempotencyResolver
	cfg          Config

	archiver   Archiver
	dispatcher Dispatcher
	log        zerolog.Logger
	now        func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithArchiver archives sent messages before CleanupSent deletes them.
func WithArchiver(a Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// WithDispatcher notifies d about every newly created message.
func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an Engine. The backend name is recorded on every message
// it creates.
func NewEngine(
	cfg Config,
	messages mq.MessageStore,
	suppressions mq.SuppressionStore,
	composer *templates.Composer,
	backend provider.Backend,
	opts ...Option,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("delivery config: %w", err)
	}
	e := &Engine{
		messages:     messages,
		suppressions: suppressions,
		composer:     composer,
		backend:      backend,
		idempotency:  NewIdempotencyResolver(messages),
		cfg:          cfg,
		log:          zerolog.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EnqueueTemplate renders the active revision of req.TemplateName and stores
// the result as a QUEUED message. A known idempotency key returns the stored
// message unchanged.
func (e *Engine) EnqueueTemplate(ctx context.Context, req TemplateRequest) (*mq.Message, error) {
	key, err := NormalizeKey(req.IdempotencyKey)
	if err != nil {
		return nil, e.reject("idempotency_key", err)
	}
	if existing, err := e.idempotency.Existing(ctx, key); err != nil || existing != nil {
		return existing, err
	}

	composed, err := e.composer.Compose(ctx, req.TemplateName, req.Context)
	if err != nil {
		return nil, e.reject(rejectReason(err), err)
	}

	env := validate.Envelope{
		From:    e.sender(req.FromEmail),
		To:      req.To,
		Cc:      req.Cc,
		Bcc:     req.Bcc,
		Subject: composed.Subject,
		HTML:    composed.HTML,
		Text:    composed.Text,
	}
	return e.store(ctx, "template", key, env, func(m *mq.Message) {
		m.TemplateName = composed.TemplateName
		m.TemplateRevision = composed.Revision
	})
}

// EnqueueRaw stores caller supplied content as a QUEUED message.
func (e *Engine) EnqueueRaw(ctx context.Context, req RawRequest) (*mq.Message, error) {
	key, err := NormalizeKey(req.IdempotencyKey)
	if err != nil {
		return nil, e.reject("idempotency_key", err)
	}
	if existing, err := e.idempotency.Existing(ctx, key); err != nil || existing != nil {
		return existing, err
	}

	env := validate.Envelope{
		From:    e.sender(req.FromEmail),
		To:      req.To,
		Cc:      req.Cc,
		Bcc:     req.Bcc,
		Subject: req.Subject,
		HTML:    req.HTML,
		Text:    req.Text,
	}
	return e.store(ctx, "raw", key, env, nil)
}

func (e *Engine) store(ctx context.Context, kind, key string, env validate.Envelope, decorate func(*mq.Message)) (*mq.Message, error) {
	env, err := validate.Check(env)
	if err != nil {
		return nil, e.reject("validation", err)
	}
	if err := e.checkSuppressed(ctx, env); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	m := &mq.Message{
		ID:             uuid.New(),
		IdempotencyKey: key,
		FromEmail:      env.From,
		To:             env.To,
		Cc:             env.Cc,
		Bcc:            env.Bcc,
		Subject:        env.Subject,
		HTMLBody:       env.HTML,
		TextBody:       env.Text,
		Status:         mq.StatusQueued,
		Provider:       e.backend.Name(),
		MaxAttempts:    e.cfg.MaxAttempts,
		NextAttemptAt:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if decorate != nil {
		decorate(m)
	}

	stored, created, err := e.idempotency.Create(ctx, m)
	if err != nil {
		return nil, err
	}
	if !created {
		return stored, nil
	}

	metrics.MessagesEnqueuedTotal.WithLabelValues(kind).Inc()
	log := logger.FromContextOr(ctx, e.log)
	log.Info().
		Stringer("message_id", stored.ID).
		Str("kind", kind).
		Str("template", stored.TemplateName).
		Int("recipients", len(stored.Recipients())).
		Msg("message enqueued")

	if e.dispatcher != nil {
		if err := e.dispatcher.Dispatch(ctx, stored.ID); err != nil {
			log.Warn().Err(err).Stringer("message_id", stored.ID).Msg("dispatch failed, message stays due")
		}
	}
	return stored, nil
}

// checkSuppressed rejects the whole submission when any recipient is blocked.
func (e *Engine) checkSuppressed(ctx context.Context, env validate.Envelope) error {
	fields := []struct {
		name string
		list []string
	}{{"to", env.To}, {"cc", env.Cc}, {"bcc", env.Bcc}}

	for _, f := range fields {
		for _, addr := range f.list {
			blocked, err := e.suppressions.IsSuppressed(ctx, addr)
			if err != nil {
				return fmt.Errorf("check suppression: %w", err)
			}
			if blocked {
				return e.reject("suppressed", &mq.ValidationError{
					Field:  f.name,
					Reason: "recipient " + addr + " is suppressed",
				})
			}
		}
	}
	return nil
}

// SendNow performs one delivery attempt. Terminal messages and messages
// claimed by another worker are returned unchanged. Backend failures are
// recorded on the message, never returned.
func (e *Engine) SendNow(ctx context.Context, id uuid.UUID) (*mq.Message, error) {
	m, err := e.messages.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	if m.Status.Terminal() {
		return m, nil
	}

	log := logger.FromContextOr(ctx, e.log).With().Stringer("message_id", id).Logger()

	claimed, ok, err := e.messages.ClaimForSending(ctx, id, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("claim message %s: %w", id, err)
	}
	if !ok {
		log.Debug().Str("status", string(claimed.Status)).Msg("message claimed elsewhere")
		return claimed, nil
	}
	metrics.StatusTransitionsTotal.WithLabelValues(string(m.Status), string(mq.StatusSending)).Inc()

	start := time.Now()
	res := e.backend.Send(ctx, claimed)
	elapsed := time.Since(start)

	// The attempt is finished; record it even when the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	now := e.now().UTC()
	u := e.outcome(claimed, res, now)

	updated, applied, err := e.messages.UpdateStatus(ctx, id, u, now)
	if err != nil {
		return nil, fmt.Errorf("record attempt for %s: %w", id, err)
	}
	if !applied {
		log.Warn().
			Str("status", string(updated.Status)).
			Str("discarded_status", string(u.Status)).
			Msg("message reclaimed during attempt, result discarded")
		return updated, nil
	}

	outcome := "success"
	if !res.OK {
		outcome = "failure"
	}
	metrics.DeliveryAttemptsTotal.WithLabelValues(e.backend.Name(), outcome).Inc()
	metrics.DeliveryDuration.WithLabelValues(e.backend.Name()).Observe(elapsed.Seconds())
	metrics.StatusTransitionsTotal.WithLabelValues(string(mq.StatusSending), string(u.Status)).Inc()

	ev := log.Info()
	if !res.OK {
		ev = log.Warn().Str("error", u.LastErrorMessage)
	}
	ev.Str("provider", e.backend.Name()).
		Str("status", string(u.Status)).
		Int("attempt", u.AttemptCount).
		Dur("duration", elapsed).
		Msg("delivery attempt finished")

	return updated, nil
}

// outcome computes the bookkeeping for a finished attempt on m.
func (e *Engine) outcome(m *mq.Message, res provider.Result, now time.Time) mq.StatusUpdate {
	u := mq.StatusUpdate{
		AttemptCount:      m.AttemptCount + 1,
		LastErrorMessage:  m.LastErrorMessage,
		ProviderMessageID: m.ProviderMessageID,
		ClaimedAt:         m.UpdatedAt,
	}

	switch {
	case res.OK:
		u.Status = mq.StatusSent
		u.ProviderMessageID = res.ProviderMessageID
		u.SentAt = &now
	case u.AttemptCount >= m.MaxAttempts:
		u.Status = mq.StatusFailed
		u.LastErrorMessage = errorText(res)
	default:
		next := e.cfg.RetrySchedule.NextAttempt(now, u.AttemptCount)
		u.Status = mq.StatusRetrying
		u.LastErrorMessage = errorText(res)
		u.NextAttemptAt = &next
	}
	return u
}

func errorText(res provider.Result) string {
	msg := strings.TrimSpace(logger.Redact(res.ErrorMessage))
	if msg == "" {
		return "delivery failed"
	}
	return msg
}

// ListDue returns pending messages whose next attempt is at or before now,
// oldest first. limit <= 0 means no limit.
func (e *Engine) ListDue(ctx context.Context, now time.Time, limit int) ([]*mq.Message, error) {
	due, err := e.messages.QueryDue(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due messages: %w", err)
	}
	return due, nil
}

// RecoverStale moves messages stuck in SENDING for longer than olderThan back
// to RETRYING, due immediately. Their attempt count is left alone.
func (e *Engine) RecoverStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	now := e.now().UTC()
	ids, err := e.messages.RequeueStale(ctx, now.Add(-olderThan), now, StaleReason)
	if err != nil {
		return nil, fmt.Errorf("recover stale messages: %w", err)
	}
	if len(ids) > 0 {
		metrics.StaleRecoveredTotal.Add(float64(len(ids)))
		metrics.StatusTransitionsTotal.WithLabelValues(string(mq.StatusSending), string(mq.StatusRetrying)).Add(float64(len(ids)))
		log := logger.FromContextOr(ctx, e.log)
		log.Warn().Int("count", len(ids)).Msg("requeued messages stuck in SENDING")
	}
	return ids, nil
}

// CleanupSent deletes SENT messages older than retention, archiving each one
// first when an archiver is configured. It returns the number deleted.
func (e *Engine) CleanupSent(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := e.now().UTC().Add(-retention)

	if e.archiver == nil {
		n, err := e.messages.DeleteSentBefore(ctx, cutoff)
		if err != nil {
			return 0, fmt.Errorf("delete sent messages: %w", err)
		}
		metrics.CleanupDeletedTotal.Add(float64(n))
		return n, nil
	}

	batch := e.cfg.CleanupBatch
	if batch <= 0 {
		batch = 500
	}

	var total int64
	for {
		sent, err := e.messages.ListSentBefore(ctx, cutoff, batch)
		if err != nil {
			return total, fmt.Errorf("list sent messages: %w", err)
		}
		if len(sent) == 0 {
			return total, nil
		}

		ids := make([]uuid.UUID, 0, len(sent))
		for _, m := range sent {
			if err := e.archiver.Archive(ctx, m); err != nil {
				// Deleting what was archived so far keeps the next run from
				// archiving it twice.
				n, derr := e.messages.Delete(ctx, ids)
				total += n
				metrics.CleanupDeletedTotal.Add(float64(n))
				return total, errors.Join(fmt.Errorf("archive message %s: %w", m.ID, err), derr)
			}
			ids = append(ids, m.ID)
		}

		n, err := e.messages.Delete(ctx, ids)
		total += n
		metrics.CleanupDeletedTotal.Add(float64(n))
		if err != nil {
			return total, fmt.Errorf("delete archived messages: %w", err)
		}
		if len(sent) < batch {
			return total, nil
		}
	}
}

// Get returns a stored message.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*mq.Message, error) {
	return e.messages.Get(ctx, id)
}

// List returns stored messages, newest first.
func (e *Engine) List(ctx context.Context, f mq.ListFilter) ([]*mq.Message, error) {
	return e.messages.List(ctx, f)
}

func (e *Engine) sender(from string) string {
	if strings.TrimSpace(from) != "" {
		return from
	}
	return e.cfg.DefaultFrom
}

func (e *Engine) reject(reason string, err error) error {
	metrics.EnqueueRejectedTotal.WithLabelValues(reason).Inc()
	return err
}

func rejectReason(err error) string {
	var (
		missing *mq.MissingVarsError
		render  *mq.RenderError
	)
	switch {
	case errors.Is(err, mq.ErrTemplateNotFound):
		return "template_not_found"
	case errors.As(err, &missing):
		return "missing_vars"
	case errors.As(err, &render):
		return "render"
	}
	return "internal"
}
