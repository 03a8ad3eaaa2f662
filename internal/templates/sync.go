package templates

import (
	"context"
	"errors"
	"fmt"

	"github.com/sungwon/mailqueue/internal/logger"
	mq "github.com/sungwon/mailqueue/internal/mail"
)

// PublishResult describes what happened to one source.
type PublishResult struct {
	Name     string
	Revision int
	Action   mq.PublishAction
	// Written is false for unchanged sources and for existing names when
	// upsert is off.
	Written bool
}

// Publisher writes loaded sources to a template store.
type Publisher struct {
	store mq.TemplateStore
}

// NewPublisher creates a Publisher.
func NewPublisher(store mq.TemplateStore) *Publisher {
	return &Publisher{store: store}
}

// Publish checks every source against the stored revision and then writes
// them in one transaction. Any conflict rejects the whole batch and nothing
// is written. With upsert off, names that already exist are left alone.
func (p *Publisher) Publish(ctx context.Context, sources []*Source, upsert bool) ([]PublishResult, error) {
	log := logger.FromContext(ctx)

	var results []PublishResult
	err := p.store.WithinTx(ctx, func(tx mq.TemplateStore) error {
		results = results[:0]
		var pending []*Source
		seen := make(map[string]bool, len(sources))
		var conflicts []error

		for _, src := range sources {
			ref := src.Ref()
			if seen[ref.Name] {
				conflicts = append(conflicts, fmt.Errorf("template %q declared by more than one directory", ref.Name))
				continue
			}
			seen[ref.Name] = true

			stored, err := tx.GetAny(ctx, ref.Name)
			if err != nil {
				return fmt.Errorf("get template %q: %w", ref.Name, err)
			}
			var storedRef *mq.Revision
			if stored != nil {
				r := stored.Ref()
				storedRef = &r
			}

			action, err := ref.Compare(storedRef)
			if err != nil {
				conflicts = append(conflicts, err)
				continue
			}
			res := PublishResult{
				Name:     ref.Name,
				Revision: ref.Number,
				Action:   action,
				Written:  action == mq.PublishCreate || (action == mq.PublishUpdate && upsert),
			}
			results = append(results, res)
			if res.Written {
				pending = append(pending, src)
			}
		}
		if len(conflicts) > 0 {
			return errors.Join(conflicts...)
		}

		for _, src := range pending {
			if err := tx.Upsert(ctx, src.Template()); err != nil {
				return fmt.Errorf("upsert template %q: %w", src.Manifest.Name, err)
			}
			log.Info().
				Str("template", src.Manifest.Name).
				Int("revision", src.Manifest.Revision).
				Str("source_hash", src.Hash).
				Msg("template published")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
