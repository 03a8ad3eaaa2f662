package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Defaults applied by NewFileWriter to zero FileConfig fields.
const (
	DefaultLogPath   = "logs/mailqueue.log"
	DefaultMaxSizeMB = 100
	DefaultMaxFiles  = 5
)

// FileConfig holds configuration for file-based log output with rotation.
type FileConfig struct {
	Path      string
	MaxSizeMB int
	// MaxFiles is the number of rotated files to retain.
	MaxFiles int
}

// NewFileWriter returns a size-rotated log file. Rotated files are gzipped.
func NewFileWriter(cfg FileConfig) io.Writer {
	if cfg.Path == "" {
		cfg.Path = DefaultLogPath
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = DefaultMaxSizeMB
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		Compress:   true,
	}
}
