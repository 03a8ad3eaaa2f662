package api

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/mailqueue/internal/logger"
	"github.com/sungwon/mailqueue/internal/suppression"
)

// WebhookSecretHeader carries the shared secret providers are configured
// to send.
const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookHandler handles POST /webhooks/{provider}. Bounce and complaint
// events become suppressions; other events are acknowledged and dropped.
// An empty secret disables the header check.
func WebhookHandler(svc SuppressionService, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		provider := chi.URLParam(r, "provider")

		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(WebhookSecretHeader)), []byte(secret)) != 1 {
			log.Warn().Str("provider", provider).Msg("webhook rejected: bad secret")
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		// SNS subscriptions are confirmed by an operator, never fetched
		// from here.
		if url, ok := suppression.SubscribeURL(body); ok {
			log.Info().Str("provider", provider).Str("subscribe_url", url).Msg("sns subscription confirmation received")
			respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "suppressed": 0})
			return
		}

		n, err := svc.Ingest(r.Context(), provider, body)
		if err != nil {
			log.Warn().Err(err).Str("provider", provider).Int("suppressed", n).Msg("webhook ingest failed")
			respondServiceError(w, log, err, "webhook ingest failed")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "suppressed": n})
	}
}
