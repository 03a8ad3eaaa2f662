package queue

import "context"

// Enqueuer publishes jobs to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *Job) (string, error)
}

// Dequeuer consumes jobs from the queue.
// Start begins consuming in background goroutines.
// Stop gracefully shuts down consumers.
type Dequeuer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DeadLetterQueue keeps jobs whose handling exhausted its retries.
type DeadLetterQueue interface {
	MoveToDLQ(ctx context.Context, job *Job, reason string) error
	// Reprocess moves up to limit dead letters back onto the main queue
	// with their retry count reset.
	Reprocess(ctx context.Context, limit int) (int, error)
}

// JobHandler processes a single job. An error means the job could not be
// handled at all, for example because the store was unreachable; a failed
// delivery attempt is recorded on the message and is not an error.
type JobHandler interface {
	HandleJob(ctx context.Context, job *Job) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, job *Job) error

func (f JobHandlerFunc) HandleJob(ctx context.Context, job *Job) error { return f(ctx, job) }
