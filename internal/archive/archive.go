// Package archive keeps a JSON copy of sent messages before retention
// removes them from the message store.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("archive: object not found")

// Store types.
const (
	TypeNone  = "none"
	TypeLocal = "local"
	TypeS3    = "s3"
)

// ObjectStore writes and reads archived objects by key.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Config holds configuration for the archive store.
type Config struct {
	Type       string `mapstructure:"type"` // "none", "local" or "s3"
	Path       string `mapstructure:"path"` // base directory for local store
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// Enabled reports whether sent messages are archived at all.
func (c Config) Enabled() bool {
	return c.Type != "" && c.Type != TypeNone
}

// NewStore creates the ObjectStore selected by cfg.Type.
func NewStore(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch cfg.Type {
	case TypeLocal:
		return NewLocalFileStore(cfg.Path)
	case TypeS3:
		return NewS3StoreFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("archive: unsupported store type %q", cfg.Type)
	}
}

// Archiver writes messages into an ObjectStore, one JSON document per
// message, grouped by the day it was sent.
type Archiver struct {
	store ObjectStore
}

// NewArchiver creates an Archiver over store.
func NewArchiver(store ObjectStore) *Archiver {
	return &Archiver{store: store}
}

// Key returns the object key of m: sent date, then id.
func Key(m *mq.Message) string {
	day := m.CreatedAt
	if m.SentAt != nil {
		day = *m.SentAt
	}
	return path.Join(day.UTC().Format("2006/01/02"), m.ID.String()+".json")
}

// Archive stores m under Key(m). Archiving the same message twice overwrites
// the earlier copy.
func (a *Archiver) Archive(ctx context.Context, m *mq.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("archive: marshal message %s: %w", m.ID, err)
	}
	return a.store.Put(ctx, Key(m), data)
}

// Load reads back an archived message.
func (a *Archiver) Load(ctx context.Context, key string) (*mq.Message, error) {
	data, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var m mq.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("archive: decode %s: %w", key, err)
	}
	return &m, nil
}
