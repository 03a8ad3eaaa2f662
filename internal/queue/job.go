// Package queue carries delivery jobs between the processes that create
// messages and the workers that attempt them. A job only names a message;
// the message itself, its status and its retry schedule live in the store.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Job asks a worker to attempt delivery of one stored message.
type Job struct {
	MessageID string `json:"message_id"`
	// RetryCount counts handler failures, not delivery attempts. Delivery
	// attempts are tracked on the message.
	RetryCount int       `json:"retry_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob creates a job for the message id.
func NewJob(id uuid.UUID) *Job {
	return &Job{
		MessageID:  id.String(),
		EnqueuedAt: time.Now().UTC(),
	}
}

// DeadLetter wraps a job whose handling kept failing.
type DeadLetter struct {
	Job     *Job      `json:"job"`
	Reason  string    `json:"reason"`
	MovedAt time.Time `json:"moved_at"`
}

func newDeadLetter(job *Job, reason string) DeadLetter {
	return DeadLetter{Job: job, Reason: reason, MovedAt: time.Now().UTC()}
}

// dlqStream returns the dead letter stream paired with stream.
func dlqStream(stream string) string {
	return stream + ":dlq"
}
