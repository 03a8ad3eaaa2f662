package queue

import "time"

// Queue types.
const (
	TypeInline = "inline"
	TypeRedis  = "redis"
	TypeSQS    = "sqs"
)

// Config holds configuration for the dispatch queue.
type Config struct {
	// Type selects the queue backend: "inline" (no broker, the scheduler
	// sends due messages directly), "redis" or "sqs".
	Type            string        `mapstructure:"type"`
	Stream          string        `mapstructure:"stream"`
	Group           string        `mapstructure:"group"`
	WorkerCount     int           `mapstructure:"worker_count"`
	BlockTimeout    time.Duration `mapstructure:"block_timeout"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`

	SQSQueueURL   string `mapstructure:"sqs_queue_url"`
	SQSDLQueueURL string `mapstructure:"sqs_dlq_url"`
	SQSRegion     string `mapstructure:"sqs_region"`
	SQSEndpoint   string `mapstructure:"sqs_endpoint"`
	SQSWaitTime   int32  `mapstructure:"sqs_wait_time"`          // long poll seconds, default 20
	SQSVisTimeout int32  `mapstructure:"sqs_visibility_timeout"` // seconds, default 30
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:            TypeInline,
		Stream:          "mailqueue:send",
		Group:           "mailqueue-workers",
		WorkerCount:     10,
		BlockTimeout:    5 * time.Second,
		ProcessTimeout:  60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxRetries:      5,
	}
}
