package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/metrics"
)

// sqsMaxBatch is the most messages one ReceiveMessage call returns.
const sqsMaxBatch = 10

// SQSDLQ keeps dead letters in a separate SQS queue.
type SQSDLQ struct {
	client   sqsAPI
	dlqURL   string
	enqueuer Enqueuer
	log      zerolog.Logger
}

// NewSQSDLQ creates a new SQSDLQ targeting dlqURL. Reprocessed jobs are
// published through enqueuer.
func NewSQSDLQ(client sqsAPI, dlqURL string, enqueuer Enqueuer, log zerolog.Logger) *SQSDLQ {
	return &SQSDLQ{
		client:   client,
		dlqURL:   dlqURL,
		enqueuer: enqueuer,
		log:      log,
	}
}

// MoveToDLQ sends the job and failure reason to the dead letter queue.
func (d *SQSDLQ) MoveToDLQ(ctx context.Context, job *Job, reason string) error {
	data, err := json.Marshal(newDeadLetter(job, reason))
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	_, err = d.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:    d.dlqURL,
		MessageBody: string(data),
	})
	if err != nil {
		return fmt.Errorf("sqs send to dlq: %w", err)
	}

	metrics.QueueJobsTotal.WithLabelValues("dead_lettered").Inc()
	return nil
}

// Reprocess receives up to limit dead letters, re-enqueues each job with a
// reset retry count and deletes it from the dead letter queue.
func (d *SQSDLQ) Reprocess(ctx context.Context, limit int) (int, error) {
	reprocessed := 0
	for reprocessed < limit {
		batch := int32(min(limit-reprocessed, sqsMaxBatch))
		out, err := d.client.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            d.dlqURL,
			MaxNumberOfMessages: batch,
			VisibilityTimeout:   30,
		})
		if err != nil {
			return reprocessed, fmt.Errorf("sqs receive from dlq: %w", err)
		}
		if len(out.Messages) == 0 {
			return reprocessed, nil
		}

		for _, msg := range out.Messages {
			var dl DeadLetter
			if err := json.Unmarshal([]byte(msg.Body), &dl); err != nil || dl.Job == nil {
				d.log.Warn().Err(err).Str("sqs_message_id", msg.MessageID).Msg("skipping malformed dead letter")
				continue
			}

			dl.Job.RetryCount = 0
			if _, err := d.enqueuer.Enqueue(ctx, dl.Job); err != nil {
				return reprocessed, fmt.Errorf("re-enqueue job for message %s: %w", dl.Job.MessageID, err)
			}
			if err := d.client.DeleteMessage(ctx, &sqsDeleteInput{
				QueueURL:      d.dlqURL,
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				return reprocessed, fmt.Errorf("delete dead letter: %w", err)
			}

			reprocessed++
			metrics.QueueJobsTotal.WithLabelValues("reprocessed").Inc()
		}
	}
	return reprocessed, nil
}
