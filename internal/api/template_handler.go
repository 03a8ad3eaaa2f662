package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/mailqueue/internal/logger"
	mq "github.com/sungwon/mailqueue/internal/mail"
)

// TemplateReader looks up active templates.
type TemplateReader interface {
	GetActive(ctx context.Context, name string) (*mq.Template, error)
}

// GetTemplateHandler handles GET /v1/templates/{name}.
func GetTemplateHandler(templates TemplateReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := templates.GetActive(r.Context(), chi.URLParam(r, "name"))
		if err != nil {
			respondServiceError(w, logger.FromContext(r.Context()), err, "get template failed")
			return
		}
		respondJSON(w, http.StatusOK, t)
	}
}
