package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sungwon/mailqueue/internal/delivery"
	"github.com/sungwon/mailqueue/internal/logger"
	mq "github.com/sungwon/mailqueue/internal/mail"
)

// MessageService is the part of the delivery engine the API exposes.
type MessageService interface {
	EnqueueTemplate(ctx context.Context, req delivery.TemplateRequest) (*mq.Message, error)
	EnqueueRaw(ctx context.Context, req delivery.RawRequest) (*mq.Message, error)
	SendNow(ctx context.Context, id uuid.UUID) (*mq.Message, error)
	Get(ctx context.Context, id uuid.UUID) (*mq.Message, error)
	List(ctx context.Context, f mq.ListFilter) ([]*mq.Message, error)
}

// EnqueueTemplateHandler handles POST /v1/messages/template.
// Replaying an idempotency key returns the stored message.
func EnqueueTemplateHandler(svc MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req delivery.TemplateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		m, err := svc.EnqueueTemplate(r.Context(), req)
		if err != nil {
			respondServiceError(w, logger.FromContext(r.Context()), err, "enqueue template failed")
			return
		}
		respondJSON(w, http.StatusAccepted, m)
	}
}

// EnqueueRawHandler handles POST /v1/messages/raw.
func EnqueueRawHandler(svc MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req delivery.RawRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		m, err := svc.EnqueueRaw(r.Context(), req)
		if err != nil {
			respondServiceError(w, logger.FromContext(r.Context()), err, "enqueue raw failed")
			return
		}
		respondJSON(w, http.StatusAccepted, m)
	}
}

// GetMessageHandler handles GET /v1/messages/{id}.
func GetMessageHandler(svc MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid message id")
			return
		}

		m, err := svc.Get(r.Context(), id)
		if err != nil {
			respondServiceError(w, logger.FromContext(r.Context()), err, "get message failed")
			return
		}
		respondJSON(w, http.StatusOK, m)
	}
}

// ListMessagesHandler handles GET /v1/messages?status=&limit=.
func ListMessagesHandler(svc MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f mq.ListFilter
		if s := r.URL.Query().Get("status"); s != "" {
			status, err := mq.ParseStatus(strings.ToUpper(s))
			if err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			f.Status = status
		}
		limit, err := limitParam(r, defaultListLimit)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Limit = limit

		msgs, err := svc.List(r.Context(), f)
		if err != nil {
			respondServiceError(w, logger.FromContext(r.Context()), err, "list messages failed")
			return
		}
		if msgs == nil {
			msgs = []*mq.Message{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	}
}

// SendMessageHandler handles POST /v1/messages/{id}/send. It performs one
// attempt synchronously; the outcome is on the returned message.
func SendMessageHandler(svc MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid message id")
			return
		}

		m, err := svc.SendNow(r.Context(), id)
		if err != nil {
			respondServiceError(w, logger.FromContext(r.Context()), err, "send message failed")
			return
		}
		respondJSON(w, http.StatusOK, m)
	}
}
