// Package worker turns dispatch jobs into delivery attempts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/queue"
)

// storeRetryBackoff spaces retries of an attempt that failed on the store.
var storeRetryBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
}

// Sender performs one delivery attempt for a stored message.
type Sender interface {
	SendNow(ctx context.Context, id uuid.UUID) (*mq.Message, error)
}

// Handler implements queue.JobHandler on top of a Sender.
type Handler struct {
	sender  Sender
	backoff []time.Duration
	log     zerolog.Logger
}

var _ queue.JobHandler = (*Handler)(nil)

// NewHandler creates a Handler delivering through sender.
func NewHandler(sender Sender, log zerolog.Logger) *Handler {
	return &Handler{sender: sender, backoff: storeRetryBackoff, log: log}
}

// HandleJob attempts delivery of the job's message. Jobs naming an unknown or
// malformed id are acknowledged without delivery. A delivery failure is
// recorded on the message by the sender and is not an error here; only store
// failures that outlast the retries are returned.
func (h *Handler) HandleJob(ctx context.Context, job *queue.Job) error {
	id, err := uuid.Parse(job.MessageID)
	if err != nil {
		h.log.Warn().Str("message_id", job.MessageID).Msg("malformed message id in job, acknowledging")
		return nil
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		m, err := h.sender.SendNow(ctx, id)
		if err == nil {
			h.log.Debug().
				Stringer("message_id", id).
				Str("status", string(m.Status)).
				Int("attempt_count", m.AttemptCount).
				Msg("job handled")
			return nil
		}
		if errors.Is(err, mq.ErrMessageNotFound) {
			h.log.Warn().Stringer("message_id", id).Msg("orphaned job, message not found, acknowledging")
			return nil
		}

		lastErr = err
		if attempt >= len(h.backoff) {
			break
		}
		h.log.Warn().Err(err).
			Stringer("message_id", id).
			Int("attempt", attempt+1).
			Int("max_attempts", len(h.backoff)+1).
			Msg("send failed on the store, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.backoff[attempt]):
		}
	}

	h.log.Error().Err(lastErr).Stringer("message_id", id).Msg("send failed after all retries")
	return fmt.Errorf("all %d attempts exhausted: %w", len(h.backoff)+1, lastErr)
}
