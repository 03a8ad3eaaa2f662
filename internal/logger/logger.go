package logger

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Log outputs.
const (
	OutputStdout = "stdout"
	OutputFile   = "file"
	OutputBoth   = "both"
)

// LoggingConfig selects the level and destination of service logs.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"` // stdout (default), file, both
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

type contextKey string

const (
	loggerKey        contextKey = "logger"
	correlationIDKey contextKey = "correlation_id"
)

// New returns a JSON logger on stdout. An unknown level means info.
func New(level string) zerolog.Logger {
	return newLogger(os.Stdout, level)
}

// NewFromConfig returns a JSON logger writing to the output cfg selects:
// "file" rotates through lumberjack, "both" adds stdout, and anything else
// is stdout only.
func NewFromConfig(cfg LoggingConfig) zerolog.Logger {
	return newLogger(outputFor(cfg), cfg.Level)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func outputFor(cfg LoggingConfig) io.Writer {
	file := func() io.Writer {
		return NewFileWriter(FileConfig{Path: cfg.FilePath, MaxSizeMB: cfg.MaxSizeMB, MaxFiles: cfg.MaxFiles})
	}
	switch cfg.Output {
	case OutputFile:
		return file()
	case OutputBoth:
		return zerolog.MultiLevelWriter(os.Stdout, file())
	default:
		return os.Stdout
	}
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithCorrelationID stores a correlation ID in the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext returns the correlation ID in ctx, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns the logger carried by ctx, or an info logger on stdout,
// tagged with the correlation ID when ctx has one.
func FromContext(ctx context.Context) zerolog.Logger {
	return FromContextOr(ctx, New("info"))
}

// FromContextOr is FromContext with fallback used when ctx carries no logger.
func FromContextOr(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	log := fallback
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		log = l
	}

	if id := CorrelationIDFromContext(ctx); id != "" {
		log = log.With().Str("correlation_id", id).Logger()
	}

	return log
}

// NewCorrelationID returns a random UUID string.
func NewCorrelationID() string {
	return uuid.New().String()
}
