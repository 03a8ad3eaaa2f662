package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/metrics"
)

// maxSQSDelay is the longest DelaySeconds SQS accepts.
const maxSQSDelay = 900

// SQSEnqueuer publishes jobs to an AWS SQS queue.
type SQSEnqueuer struct {
	client   sqsAPI
	queueURL string
	log      zerolog.Logger
}

// NewSQSEnqueuer creates a new SQSEnqueuer targeting the given queue URL.
func NewSQSEnqueuer(client sqsAPI, queueURL string, log zerolog.Logger) *SQSEnqueuer {
	return &SQSEnqueuer{
		client:   client,
		queueURL: queueURL,
		log:      log,
	}
}

// Enqueue sends the job as JSON and returns the SQS message ID.
func (e *SQSEnqueuer) Enqueue(ctx context.Context, job *Job) (string, error) {
	return e.send(ctx, job, 0)
}

// EnqueueWithDelay sends the job hidden for delaySeconds, capped at the
// SQS maximum of 900.
func (e *SQSEnqueuer) EnqueueWithDelay(ctx context.Context, job *Job, delaySeconds int32) (string, error) {
	return e.send(ctx, job, min(delaySeconds, maxSQSDelay))
}

func (e *SQSEnqueuer) send(ctx context.Context, job *Job, delay int32) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	out, err := e.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:     e.queueURL,
		MessageBody:  string(data),
		DelaySeconds: delay,
	})
	if err != nil {
		return "", fmt.Errorf("sqs send message: %w", err)
	}

	metrics.QueueJobsTotal.WithLabelValues("enqueued").Inc()
	return out.MessageID, nil
}
