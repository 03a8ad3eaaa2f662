package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/mailqueue/internal/logger"
	mq "github.com/sungwon/mailqueue/internal/mail"
)

// SuppressionService manages the suppression list.
type SuppressionService interface {
	Ingest(ctx context.Context, provider string, body []byte) (int, error)
	Add(ctx context.Context, email string, reason mq.SuppressionReason, provider string, meta map[string]any) error
	Remove(ctx context.Context, email string) error
	Get(ctx context.Context, email string) (*mq.Suppression, error)
	List(ctx context.Context, limit int) ([]*mq.Suppression, error)
}

type putSuppressionRequest struct {
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// GetSuppressionHandler handles GET /v1/suppressions/{email}.
func GetSuppressionHandler(svc SuppressionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := svc.Get(r.Context(), chi.URLParam(r, "email"))
		if err != nil {
			respondServiceError(w, logger.FromContext(r.Context()), err, "get suppression failed")
			return
		}
		respondJSON(w, http.StatusOK, s)
	}
}

// PutSuppressionHandler handles PUT /v1/suppressions/{email}. The entry is
// recorded with provider "manual".
func PutSuppressionHandler(svc SuppressionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req putSuppressionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		email := chi.URLParam(r, "email")
		ctx := r.Context()
		if err := svc.Add(ctx, email, mq.SuppressionReason(req.Reason), "manual", req.Metadata); err != nil {
			respondServiceError(w, logger.FromContext(ctx), err, "add suppression failed")
			return
		}

		s, err := svc.Get(ctx, email)
		if err != nil {
			respondServiceError(w, logger.FromContext(ctx), err, "get suppression failed")
			return
		}
		respondJSON(w, http.StatusOK, s)
	}
}

// DeleteSuppressionHandler handles DELETE /v1/suppressions/{email}.
func DeleteSuppressionHandler(svc SuppressionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Remove(r.Context(), chi.URLParam(r, "email")); err != nil {
			respondServiceError(w, logger.FromContext(r.Context()), err, "remove suppression failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListSuppressionsHandler handles GET /v1/suppressions?limit=.
func ListSuppressionsHandler(svc SuppressionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := limitParam(r, defaultListLimit)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		entries, err := svc.List(r.Context(), limit)
		if err != nil {
			respondServiceError(w, logger.FromContext(r.Context()), err, "list suppressions failed")
			return
		}
		if entries == nil {
			entries = []*mq.Suppression{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"suppressions": entries})
	}
}
