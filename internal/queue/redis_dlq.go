package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sungwon/mailqueue/internal/metrics"
)

// RedisDLQ keeps dead letters in a stream next to the job stream.
type RedisDLQ struct {
	client   *redis.Client
	stream   string
	enqueuer Enqueuer
}

// NewRedisDLQ creates a RedisDLQ for the job stream. Reprocessed jobs are
// published through enqueuer.
func NewRedisDLQ(client *redis.Client, stream string, enqueuer Enqueuer) *RedisDLQ {
	return &RedisDLQ{client: client, stream: dlqStream(stream), enqueuer: enqueuer}
}

// MoveToDLQ appends the job and the failure reason to the dead letter stream.
func (d *RedisDLQ) MoveToDLQ(ctx context.Context, job *Job, reason string) error {
	data, err := json.Marshal(newDeadLetter(job, reason))
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		Values: map[string]any{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd to dlq stream %s: %w", d.stream, err)
	}

	metrics.QueueJobsTotal.WithLabelValues("dead_lettered").Inc()
	return nil
}

// Reprocess re-enqueues the oldest dead letters with a reset retry count and
// removes them from the dead letter stream.
func (d *RedisDLQ) Reprocess(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	entries, err := d.client.XRangeN(ctx, d.stream, "-", "+", int64(limit)).Result()
	if err != nil {
		return 0, fmt.Errorf("xrange dlq stream %s: %w", d.stream, err)
	}

	reprocessed := 0
	for _, entry := range entries {
		var dl DeadLetter
		data, ok := entry.Values["data"].(string)
		if !ok || json.Unmarshal([]byte(data), &dl) != nil || dl.Job == nil {
			// Unreadable entries would block the head of the stream forever.
			_ = d.client.XDel(ctx, d.stream, entry.ID).Err()
			continue
		}

		dl.Job.RetryCount = 0
		if _, err := d.enqueuer.Enqueue(ctx, dl.Job); err != nil {
			return reprocessed, fmt.Errorf("re-enqueue job for message %s: %w", dl.Job.MessageID, err)
		}
		if err := d.client.XDel(ctx, d.stream, entry.ID).Err(); err != nil {
			return reprocessed, fmt.Errorf("xdel dlq entry %s: %w", entry.ID, err)
		}

		reprocessed++
		metrics.QueueJobsTotal.WithLabelValues("reprocessed").Inc()
	}
	return reprocessed, nil
}
