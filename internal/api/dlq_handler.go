package api

import (
	"net/http"

	"github.com/sungwon/mailqueue/internal/auth"
	"github.com/sungwon/mailqueue/internal/logger"
	"github.com/sungwon/mailqueue/internal/queue"
)

const defaultReprocessLimit = 100

// dlqReprocessResponse is the JSON response for a DLQ reprocess operation.
type dlqReprocessResponse struct {
	Reprocessed int `json:"reprocessed"`
	Limit       int `json:"limit"`
}

// DLQReprocessHandler handles POST /v1/queue/dlq/reprocess?limit=.
// It moves dead-lettered dispatch jobs back onto the primary queue.
func DLQReprocessHandler(dlq queue.DeadLetterQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		limit, err := limitParam(r, defaultReprocessLimit)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		reprocessed, err := dlq.Reprocess(r.Context(), limit)
		if err != nil {
			log.Error().Err(err).
				Str("client", auth.ClientFromContext(r.Context())).
				Int("limit", limit).
				Int("reprocessed", reprocessed).
				Msg("dlq reprocess failed")
			respondError(w, http.StatusInternalServerError, "reprocess failed")
			return
		}

		log.Info().
			Str("client", auth.ClientFromContext(r.Context())).
			Int("reprocessed", reprocessed).
			Int("limit", limit).
			Msg("dlq reprocess completed")

		respondJSON(w, http.StatusOK, dlqReprocessResponse{
			Reprocessed: reprocessed,
			Limit:       limit,
		})
	}
}
