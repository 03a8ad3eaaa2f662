package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrInline is returned by NewQueue for the inline type, which has no broker.
var ErrInline = errors.New("inline queue has no broker")

// Queue bundles the three sides of one broker.
type Queue struct {
	Enqueuer Enqueuer
	Dequeuer Dequeuer
	DLQ      DeadLetterQueue
}

// NewQueue builds the broker selected by cfg.Type. redisClient is used for
// the redis type and may be nil otherwise. handler processes dequeued jobs.
func NewQueue(
	ctx context.Context,
	cfg Config,
	redisClient *redis.Client,
	handler JobHandler,
	log zerolog.Logger,
) (*Queue, error) {
	switch cfg.Type {
	case TypeRedis:
		if redisClient == nil {
			return nil, errors.New("redis queue requires a redis client")
		}
		enqueuer := NewRedisEnqueuer(redisClient, cfg.Stream)
		dlq := NewRedisDLQ(redisClient, cfg.Stream, enqueuer)
		dequeuer := NewRedisDequeuer(redisClient, enqueuer, dlq, handler, NewRetryStrategy(cfg.MaxRetries), cfg, log)
		return &Queue{Enqueuer: enqueuer, Dequeuer: dequeuer, DLQ: dlq}, nil

	case TypeSQS:
		client, err := newAWSSQSClient(ctx, cfg.SQSRegion, cfg.SQSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("create sqs client: %w", err)
		}
		enqueuer := NewSQSEnqueuer(client, cfg.SQSQueueURL, log)
		dlq := NewSQSDLQ(client, cfg.SQSDLQueueURL, enqueuer, log)
		dequeuer := NewSQSDequeuer(client, cfg.SQSQueueURL, handler, dlq, NewRetryStrategy(cfg.MaxRetries), enqueuer, cfg, log)
		return &Queue{Enqueuer: enqueuer, Dequeuer: dequeuer, DLQ: dlq}, nil

	case TypeInline, "":
		return nil, ErrInline

	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
