package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/suppression"
)

// respondJSON writes a JSON response with the given status code and data.
// If data is nil, only the status code and Content-Type header are written.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	var (
		validation *mq.ValidationError
		missing    *mq.MissingVarsError
		render     *mq.RenderError
		conflict   *mq.SyncConflictError
		payload    *suppression.PayloadError
	)
	switch {
	case errors.As(err, &validation), errors.Is(err, mq.ErrIdempotencyKeyRequired), errors.As(err, &payload):
		return http.StatusBadRequest
	case errors.Is(err, mq.ErrTemplateNotFound), errors.Is(err, mq.ErrMessageNotFound),
		errors.Is(err, mq.ErrSuppressionNotFound), errors.Is(err, suppression.ErrUnsupportedProvider):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &missing), errors.As(err, &render):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// respondServiceError writes err with the status errorStatus picks. Server
// errors are logged and replaced by a generic message.
func respondServiceError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		respondError(w, status, "internal server error")
		return
	}

	body := map[string]any{"error": err.Error()}
	var missing *mq.MissingVarsError
	if errors.As(err, &missing) {
		body["missing_vars"] = missing.Vars
	}
	var validation *mq.ValidationError
	if errors.As(err, &validation) && validation.Field != "" {
		body["field"] = validation.Field
	}
	respondJSON(w, status, body)
}
