package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

const defaultOutputDir = "./mail_output"

// File writes each message as an .eml file into a directory. Intended for
// development; messages are never actually delivered.
type File struct {
	outputDir string
	now       func() time.Time
}

// NewFile creates a File provider writing to cfg.OutputDir, or
// "./mail_output" when unset.
func NewFile(cfg ProviderConfig) *File {
	dir := cfg.OutputDir
	if dir == "" {
		dir = defaultOutputDir
	}
	return &File{outputDir: dir, now: time.Now}
}

func (f *File) GetName() string { return "file" }

// Send writes <timestamp>_<message-id>.eml. The file name doubles as the
// provider message id.
func (f *File) Send(_ context.Context, msg *mq.Message) (*DeliveryResult, error) {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("file: create output dir: %w", err)
	}

	now := f.now()
	name := fmt.Sprintf("%s_%s.eml", now.UTC().Format("20060102_150405"), msg.ID)
	path := filepath.Join(f.outputDir, name)

	if err := os.WriteFile(path, BuildMIME(msg, now), 0o640); err != nil {
		return nil, fmt.Errorf("file: write %s: %w", path, err)
	}

	return &DeliveryResult{
		ProviderMessageID: name,
		Timestamp:         now,
		Metadata:          map[string]string{"path": path},
	}, nil
}

// HealthCheck verifies the output directory is writable.
func (f *File) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return fmt.Errorf("file: output dir not writable: %w", err)
	}
	return nil
}
