// Package api serves the HTTP interface: message submission and lookup,
// suppression management, provider webhooks and health endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/auth"
	"github.com/sungwon/mailqueue/internal/provider"
	"github.com/sungwon/mailqueue/internal/queue"
)

// Deps are the services the router dispatches to. DLQ, Health and
// RateLimiter are optional.
type Deps struct {
	Messages      MessageService
	Templates     TemplateReader
	Suppressions  SuppressionService
	DB            Pinger
	JWT           *auth.JWTService
	RateLimiter   *auth.RateLimiter
	DLQ           queue.DeadLetterQueue
	Health        *provider.HealthChecker
	WebhookSecret string
	// CORSOrigins enables browser access to /v1 from these origins.
	CORSOrigins []string
	Log         zerolog.Logger
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(d.Log))
	r.Use(RecoverMiddleware(d.Log))
	r.Use(MetricsMiddleware)

	// Health endpoints (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(d.DB, d.Health))
	r.Handle("/metrics", promhttp.Handler())

	// Webhook endpoints (shared secret, called by ESP providers)
	r.Post("/webhooks/{provider}", WebhookHandler(d.Suppressions, d.WebhookSecret))

	r.Route("/v1", func(r chi.Router) {
		if len(d.CORSOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: d.CORSOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", correlationHeader},
				ExposedHeaders: []string{correlationHeader, "Retry-After"},
				MaxAge:         300,
			}))
		}
		r.Use(auth.JWTAuth(d.JWT))
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware())
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleSender, auth.RoleAdmin))

			r.Post("/messages/template", EnqueueTemplateHandler(d.Messages))
			r.Post("/messages/raw", EnqueueRawHandler(d.Messages))
			r.Get("/messages", ListMessagesHandler(d.Messages))
			r.Get("/messages/{id}", GetMessageHandler(d.Messages))
			r.Get("/templates/{name}", GetTemplateHandler(d.Templates))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin))

			r.Post("/messages/{id}/send", SendMessageHandler(d.Messages))
			r.Get("/suppressions", ListSuppressionsHandler(d.Suppressions))
			r.Get("/suppressions/{email}", GetSuppressionHandler(d.Suppressions))
			r.Put("/suppressions/{email}", PutSuppressionHandler(d.Suppressions))
			r.Delete("/suppressions/{email}", DeleteSuppressionHandler(d.Suppressions))

			if d.DLQ != nil {
				r.Post("/queue/dlq/reprocess", DLQReprocessHandler(d.DLQ))
			}
		})
	})

	return r
}
