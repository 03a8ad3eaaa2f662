package delivery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/queue"
)

// QueueDispatcher hands new messages to the queue-worker process. Only the
// message id travels; the worker loads the message from the store.
type QueueDispatcher struct {
	enqueuer queue.Enqueuer
	log      zerolog.Logger
}

// NewQueueDispatcher creates a QueueDispatcher backed by enqueuer.
func NewQueueDispatcher(enqueuer queue.Enqueuer, log zerolog.Logger) *QueueDispatcher {
	return &QueueDispatcher{enqueuer: enqueuer, log: log}
}

// Dispatch enqueues a job for id.
func (d *QueueDispatcher) Dispatch(ctx context.Context, id uuid.UUID) error {
	entryID, err := d.enqueuer.Enqueue(ctx, queue.NewJob(id))
	if err != nil {
		return fmt.Errorf("enqueue message %s: %w", id, err)
	}

	d.log.Debug().
		Stringer("message_id", id).
		Str("entry_id", entryID).
		Msg("message dispatched to queue")
	return nil
}
