package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/metrics"
)

// SQSDequeuer runs a pool of workers long-polling an SQS queue.
type SQSDequeuer struct {
	client          sqsAPI
	queueURL        string
	handler         JobHandler
	dlq             DeadLetterQueue
	retry           *RetryStrategy
	enqueuer        *SQSEnqueuer
	log             zerolog.Logger
	workerCount     int
	waitTime        int32
	visTimeout      int32
	processTimeout  time.Duration
	shutdownTimeout time.Duration
	wg              sync.WaitGroup
	cancel          context.CancelFunc
}

// NewSQSDequeuer creates an SQSDequeuer configured from cfg. Zero values
// fall back to a 20s long poll, 30s visibility, 10 workers, and 30s process
// and shutdown timeouts.
func NewSQSDequeuer(
	client sqsAPI,
	queueURL string,
	handler JobHandler,
	dlq DeadLetterQueue,
	retry *RetryStrategy,
	enqueuer *SQSEnqueuer,
	cfg Config,
	log zerolog.Logger,
) *SQSDequeuer {
	return &SQSDequeuer{
		client:          client,
		queueURL:        queueURL,
		handler:         handler,
		dlq:             dlq,
		retry:           retry,
		enqueuer:        enqueuer,
		log:             log,
		workerCount:     orDefault(cfg.WorkerCount, 10),
		waitTime:        orDefault(cfg.SQSWaitTime, 20),
		visTimeout:      orDefault(cfg.SQSVisTimeout, 30),
		processTimeout:  orDefault(cfg.ProcessTimeout, 30*time.Second),
		shutdownTimeout: orDefault(cfg.ShutdownTimeout, 30*time.Second),
	}
}

func orDefault[T int | int32 | time.Duration](v, def T) T {
	if v == 0 {
		return def
	}
	return v
}

// Start launches workerCount goroutines that long-poll the SQS queue.
func (d *SQSDequeuer) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	for i := range d.workerCount {
		d.wg.Add(1)
		go d.runWorker(ctx, fmt.Sprintf("sqs-worker-%d", i))
	}

	d.log.Info().
		Int("worker_count", d.workerCount).
		Str("queue_url", d.queueURL).
		Msg("sqs dequeuer started")

	return nil
}

// Stop cancels the context and waits for workers to finish within the
// shutdown timeout.
func (d *SQSDequeuer) Stop(_ context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info().Msg("sqs dequeuer stopped gracefully")
		return nil
	case <-time.After(d.shutdownTimeout):
		d.log.Warn().Msg("sqs dequeuer shutdown timed out")
		return fmt.Errorf("shutdown timed out after %s", d.shutdownTimeout)
	}
}

func (d *SQSDequeuer) runWorker(ctx context.Context, workerName string) {
	defer d.wg.Done()

	d.log.Debug().Str("worker", workerName).Msg("sqs worker started")

	for {
		select {
		case <-ctx.Done():
			d.log.Debug().Str("worker", workerName).Msg("sqs worker stopping")
			return
		default:
		}

		out, err := d.client.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            d.queueURL,
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     d.waitTime,
			VisibilityTimeout:   d.visTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Error().Err(err).Str("worker", workerName).Msg("sqs receive error")
			continue
		}

		for _, msg := range out.Messages {
			d.processMessage(ctx, msg)
		}
	}
}

// processMessage decodes one SQS message, runs the handler, and retries or
// dead-letters the job on failure. The original is deleted either way;
// retries travel as new delayed messages.
func (d *SQSDequeuer) processMessage(ctx context.Context, msg sqsReceivedMessage) {
	start := time.Now()
	defer d.delete(ctx, msg)

	var job Job
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		d.log.Error().Err(err).
			Str("sqs_message_id", msg.MessageID).
			Msg("failed to unmarshal job")
		return
	}

	processCtx, cancel := context.WithTimeout(ctx, d.processTimeout)
	defer cancel()

	err := d.handler.HandleJob(processCtx, &job)
	metrics.QueueProcessingDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.QueueJobsTotal.WithLabelValues("processed").Inc()
		return
	}

	d.log.Error().
		Err(err).
		Str("message_id", job.MessageID).
		Int("retry_count", job.RetryCount).
		Msg("job processing failed")
	metrics.QueueJobsTotal.WithLabelValues("failed").Inc()

	job.RetryCount++
	if d.retry.ShouldRetry(job.RetryCount) {
		delay := max(int32(d.retry.NextBackoff(job.RetryCount-1).Seconds()), 1)
		d.log.Info().
			Str("message_id", job.MessageID).
			Int("retry_count", job.RetryCount).
			Int32("delay_seconds", delay).
			Msg("scheduling job retry")
		if _, enqErr := d.enqueuer.EnqueueWithDelay(ctx, &job, delay); enqErr != nil {
			d.log.Error().Err(enqErr).Str("message_id", job.MessageID).Msg("failed to re-enqueue job for retry")
		}
		return
	}

	d.log.Warn().
		Str("message_id", job.MessageID).
		Int("retry_count", job.RetryCount).
		Msg("max retries exhausted, moving job to DLQ")
	if dlqErr := d.dlq.MoveToDLQ(ctx, &job, err.Error()); dlqErr != nil {
		d.log.Error().Err(dlqErr).Str("message_id", job.MessageID).Msg("failed to move job to DLQ")
	}
}

func (d *SQSDequeuer) delete(ctx context.Context, msg sqsReceivedMessage) {
	if err := d.client.DeleteMessage(ctx, &sqsDeleteInput{
		QueueURL:      d.queueURL,
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		d.log.Error().Err(err).
			Str("sqs_message_id", msg.MessageID).
			Msg("failed to delete sqs message")
	}
}
