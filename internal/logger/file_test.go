package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNewFileWriter_Defaults(t *testing.T) {
	w, ok := NewFileWriter(FileConfig{}).(*lumberjack.Logger)
	if !ok {
		t.Fatal("expected a lumberjack writer")
	}
	if w.Filename != DefaultLogPath || w.MaxSize != DefaultMaxSizeMB || w.MaxBackups != DefaultMaxFiles {
		t.Errorf("defaults = %q/%d/%d", w.Filename, w.MaxSize, w.MaxBackups)
	}
	if !w.Compress {
		t.Error("rotated files should be compressed")
	}
}

func TestNewFromConfig_FileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "svc.log")
	log := NewFromConfig(LoggingConfig{Level: "warn", Output: OutputFile, FilePath: logPath})

	log.Info().Msg("dropped")
	log.Warn().Str("message_id", "m1").Msg("kept")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if strings.Contains(string(data), "dropped") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(string(data), `"message_id":"m1"`) {
		t.Errorf("warn entry missing: %s", data)
	}
}

func TestNewFileWriter_WritesToFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")

	w := NewFileWriter(FileConfig{
		Path:      logPath,
		MaxSizeMB: 10,
		MaxFiles:  3,
	})

	msg := []byte(`{"level":"info","message":"hello"}` + "\n")
	n, err := w.Write(msg)
	if err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if n != len(msg) {
		t.Errorf("expected %d bytes written, got %d", len(msg), n)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if string(data) != string(msg) {
		t.Errorf("expected file content %q, got %q", msg, data)
	}
}

func TestNewFileWriter_CreatesFileAtPath(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "subdir", "app.log")

	w := NewFileWriter(FileConfig{
		Path:      logPath,
		MaxSizeMB: 10,
		MaxFiles:  3,
	})

	_, err := w.Write([]byte("test\n"))
	if err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Errorf("expected log file to be created at %s", logPath)
	}
}
