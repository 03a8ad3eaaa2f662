package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/metrics"
)

// RedisDequeuer runs a pool of workers reading jobs from a Redis stream
// through a consumer group.
type RedisDequeuer struct {
	client   *redis.Client
	enqueuer Enqueuer
	dlq      DeadLetterQueue
	handler  JobHandler
	retry    *RetryStrategy
	config   Config
	log      zerolog.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewRedisDequeuer creates a RedisDequeuer for cfg.Stream and cfg.Group.
func NewRedisDequeuer(
	client *redis.Client,
	enqueuer Enqueuer,
	dlq DeadLetterQueue,
	handler JobHandler,
	retry *RetryStrategy,
	cfg Config,
	log zerolog.Logger,
) *RedisDequeuer {
	return &RedisDequeuer{
		client:   client,
		enqueuer: enqueuer,
		dlq:      dlq,
		handler:  handler,
		retry:    retry,
		config:   cfg,
		log:      log,
	}
}

// Start creates the consumer group (if it does not already exist) and
// launches the configured number of worker goroutines.
func (d *RedisDequeuer) Start(ctx context.Context) error {
	if err := d.createConsumerGroup(ctx); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	ctx, d.cancel = context.WithCancel(ctx)

	for i := range d.config.WorkerCount {
		d.wg.Add(1)
		go d.runWorker(ctx, fmt.Sprintf("worker-%d", i))
	}

	d.log.Info().
		Int("worker_count", d.config.WorkerCount).
		Str("stream", d.config.Stream).
		Msg("redis dequeuer started")

	return nil
}

// Stop signals all workers to stop and waits up to the configured shutdown
// timeout for them to finish processing.
func (d *RedisDequeuer) Stop(_ context.Context) error {
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info().Msg("redis dequeuer stopped gracefully")
		return nil
	case <-time.After(d.config.ShutdownTimeout):
		d.log.Warn().Msg("redis dequeuer shutdown timed out")
		return fmt.Errorf("shutdown timed out after %s", d.config.ShutdownTimeout)
	}
}

// createConsumerGroup creates the consumer group, ignoring an existing one.
func (d *RedisDequeuer) createConsumerGroup(ctx context.Context) error {
	err := d.client.XGroupCreateMkStream(ctx, d.config.Stream, d.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on stream %s: %w", d.config.Group, d.config.Stream, err)
	}
	return nil
}

func (d *RedisDequeuer) runWorker(ctx context.Context, consumerName string) {
	defer d.wg.Done()

	d.log.Debug().Str("consumer", consumerName).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			d.log.Debug().Str("consumer", consumerName).Msg("worker stopping")
			return
		default:
		}

		streams, err := d.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    d.config.Group,
			Consumer: consumerName,
			Streams:  []string{d.config.Stream, ">"},
			Count:    1,
			Block:    d.config.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			d.log.Error().Err(err).Str("consumer", consumerName).Msg("xreadgroup error")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				d.processEntry(ctx, entry)
			}
		}
	}
}

// processEntry decodes one stream entry, runs the handler, and retries or
// dead-letters the job on failure. The entry is acknowledged either way.
func (d *RedisDequeuer) processEntry(ctx context.Context, entry redis.XMessage) {
	start := time.Now()

	data, ok := entry.Values["data"].(string)
	if !ok {
		d.log.Error().Str("entry_id", entry.ID).Msg("invalid job data type")
		_ = d.acknowledge(ctx, entry.ID)
		return
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		d.log.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to unmarshal job")
		_ = d.acknowledge(ctx, entry.ID)
		return
	}

	processCtx, cancel := context.WithTimeout(ctx, d.config.ProcessTimeout)
	defer cancel()

	err := d.handler.HandleJob(processCtx, &job)
	metrics.QueueProcessingDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		d.handleFailure(ctx, &job, err)
	} else {
		metrics.QueueJobsTotal.WithLabelValues("processed").Inc()
	}

	if ackErr := d.acknowledge(ctx, entry.ID); ackErr != nil {
		d.log.Error().Err(ackErr).Str("entry_id", entry.ID).Msg("failed to acknowledge job")
	}
}

func (d *RedisDequeuer) handleFailure(ctx context.Context, job *Job, err error) {
	d.log.Error().
		Err(err).
		Str("message_id", job.MessageID).
		Int("retry_count", job.RetryCount).
		Msg("job processing failed")
	metrics.QueueJobsTotal.WithLabelValues("failed").Inc()

	job.RetryCount++
	if d.retry.ShouldRetry(job.RetryCount) {
		backoff := d.retry.NextBackoff(job.RetryCount - 1)
		d.log.Info().
			Str("message_id", job.MessageID).
			Int("retry_count", job.RetryCount).
			Dur("backoff", backoff).
			Msg("scheduling job retry")
		go d.retryAfterBackoff(context.WithoutCancel(ctx), job, backoff)
		return
	}

	d.log.Warn().
		Str("message_id", job.MessageID).
		Int("retry_count", job.RetryCount).
		Msg("max retries exhausted, moving job to DLQ")
	if dlqErr := d.dlq.MoveToDLQ(ctx, job, err.Error()); dlqErr != nil {
		d.log.Error().Err(dlqErr).Str("message_id", job.MessageID).Msg("failed to move job to DLQ")
	}
}

func (d *RedisDequeuer) acknowledge(ctx context.Context, entryID string) error {
	err := d.client.XAck(ctx, d.config.Stream, d.config.Group, entryID).Err()
	if err != nil {
		return fmt.Errorf("xack entry %s on stream %s: %w", entryID, d.config.Stream, err)
	}
	return nil
}

// retryAfterBackoff re-publishes the job once the backoff has elapsed.
func (d *RedisDequeuer) retryAfterBackoff(ctx context.Context, job *Job, backoff time.Duration) {
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	if _, err := d.enqueuer.Enqueue(ctx, job); err != nil {
		d.log.Error().Err(err).Str("message_id", job.MessageID).Msg("failed to re-enqueue job for retry")
	}
}
