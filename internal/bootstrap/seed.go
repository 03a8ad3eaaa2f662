package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/templates"
)

// SyncTemplates publishes every template directory under dir. With upsert
// off, templates that already exist are left alone, so it is safe on every
// startup.
func SyncTemplates(ctx context.Context, store mq.TemplateStore, dir string, maxBytes int, upsert bool, log zerolog.Logger) ([]templates.PublishResult, error) {
	return syncFS(ctx, store, os.DirFS(dir), maxBytes, upsert, log)
}

// SeedTemplates runs SyncTemplates without upsert when dir exists and does
// nothing otherwise.
func SeedTemplates(ctx context.Context, store mq.TemplateStore, dir string, maxBytes int, log zerolog.Logger) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("dir", dir).Msg("no template directory, skipping seed")
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("template path %s is not a directory", dir)
	}
	_, err = SyncTemplates(ctx, store, dir, maxBytes, false, log)
	return err
}

func syncFS(ctx context.Context, store mq.TemplateStore, fsys fs.FS, maxBytes int, upsert bool, log zerolog.Logger) ([]templates.PublishResult, error) {
	sources, err := templates.LoadAll(fsys, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	results, err := templates.NewPublisher(store).Publish(ctx, sources, upsert)
	if err != nil {
		return nil, fmt.Errorf("publish templates: %w", err)
	}
	for _, r := range results {
		log.Info().
			Str("template", r.Name).
			Int("revision", r.Revision).
			Str("action", r.Action.String()).
			Bool("written", r.Written).
			Msg("template synced")
	}
	return results, nil
}
