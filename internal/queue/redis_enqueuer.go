package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sungwon/mailqueue/internal/metrics"
)

// RedisEnqueuer publishes jobs to a Redis stream.
type RedisEnqueuer struct {
	client *redis.Client
	stream string
}

// NewRedisEnqueuer creates a RedisEnqueuer writing to stream.
func NewRedisEnqueuer(client *redis.Client, stream string) *RedisEnqueuer {
	return &RedisEnqueuer{client: client, stream: stream}
}

// Enqueue adds the job to the stream using XADD and returns the entry ID.
func (e *RedisEnqueuer) Enqueue(ctx context.Context, job *Job) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	entryID, err := e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: e.stream,
		Values: map[string]any{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd to stream %s: %w", e.stream, err)
	}

	metrics.QueueJobsTotal.WithLabelValues("enqueued").Inc()
	return entryID, nil
}
