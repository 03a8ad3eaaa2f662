package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sungwon/mailqueue/internal/metrics"
)

type contextKey string

const (
	clientKey contextKey = "client"
	roleKey   contextKey = "role"
)

// ClientFromContext returns the authenticated API client, or "" if none.
func ClientFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(clientKey).(string); ok {
		return c
	}
	return ""
}

// RoleFromContext returns the authenticated role, or "" if none.
func RoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(roleKey).(string); ok {
		return role
	}
	return ""
}

// WithClient stores an authenticated client and role in ctx.
func WithClient(ctx context.Context, client, role string) context.Context {
	ctx = context.WithValue(ctx, clientKey, client)
	return context.WithValue(ctx, roleKey, role)
}

// JWTAuth returns an HTTP middleware that validates JWT Bearer tokens and
// stores the client and role in the request context.
func JWTAuth(jwtService *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, "invalid authorization format, expected Bearer <token>")
				return
			}

			tokenStr := strings.TrimSpace(parts[1])
			if tokenStr == "" {
				unauthorized(w, "empty token")
				return
			}

			claims, err := jwtService.ValidateAccessToken(tokenStr)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx := WithClient(r.Context(), claims.Subject, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	metrics.APIAuthFailuresTotal.Inc()
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
