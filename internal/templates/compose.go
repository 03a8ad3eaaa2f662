package templates

import (
	"context"
	"fmt"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// Composed is a template bound to a context. The revision and hash are the
// ones stored when the composition happened.
type Composed struct {
	TemplateName string
	Revision     int
	SourceHash   string
	Subject      string
	HTML         string
	Text         string
}

// Composer renders the active revision of a stored template.
type Composer struct {
	store    mq.TemplateStore
	renderer *Renderer
}

// NewComposer creates a Composer.
func NewComposer(store mq.TemplateStore, renderer *Renderer) *Composer {
	return &Composer{store: store, renderer: renderer}
}

// Compose looks up the active template and renders it with vars.
func (c *Composer) Compose(ctx context.Context, name string, vars map[string]any) (*Composed, error) {
	t, err := c.store.GetActive(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get template %q: %w", name, err)
	}

	out, err := c.renderer.Render(t, vars)
	if err != nil {
		return nil, err
	}

	return &Composed{
		TemplateName: t.Name,
		Revision:     t.Revision,
		SourceHash:   t.SourceHash,
		Subject:      out.Subject,
		HTML:         out.HTML,
		Text:         out.Text,
	}, nil
}
