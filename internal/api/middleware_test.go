package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/logger"
	"github.com/sungwon/mailqueue/internal/metrics"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generated when absent"},
		{name: "caller id kept", incoming: "req-42", keep: true},
		{name: "oversized id replaced", incoming: strings.Repeat("x", 200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := CorrelationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = logger.CorrelationIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Correlation-ID", tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" || rec.Header().Get("X-Correlation-ID") != seen {
				t.Fatalf("context id %q, header %q", seen, rec.Header().Get("X-Correlation-ID"))
			}
			if (seen == tt.incoming) != tt.keep {
				t.Errorf("id = %q, keep caller id = %v", seen, tt.keep)
			}
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{name: "ok", status: http.StatusAccepted, wantLevel: "info"},
		{name: "implicit ok", status: 0, wantLevel: "info"},
		{name: "client error", status: http.StatusNotFound, wantLevel: "warn"},
		{name: "server error", status: http.StatusBadGateway, wantLevel: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := zerolog.New(&buf)

			var ctxLogged bool
			r := chi.NewRouter()
			r.Use(CorrelationIDMiddleware, LoggingMiddleware(log))
			r.Get("/v1/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
				ctxLogged = true
				l := logger.FromContext(r.Context())
				l.Debug().Msg("inside handler")
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				_, _ = w.Write([]byte("{}"))
			})

			req := httptest.NewRequest(http.MethodGet, "/v1/messages/abc", nil)
			req.Header.Set("X-Correlation-ID", "req-7")
			r.ServeHTTP(httptest.NewRecorder(), req)

			if !ctxLogged {
				t.Fatal("handler not called")
			}
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			var entry map[string]any
			if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
				t.Fatalf("bad log line %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["route"] != "/v1/messages/{id}" {
				t.Errorf("route = %v", entry["route"])
			}
			if entry["correlation_id"] != "req-7" {
				t.Errorf("correlation_id = %v", entry["correlation_id"])
			}
		})
	}
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/v1/templates/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/v1/templates/{name}", "404")
	before := testutil.ToFloat64(counter)

	for _, name := range []string{"welcome", "reset", "digest"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/templates/"+name, nil))
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("counter delta = %v, want 3", got)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{
			name:       "panic becomes 500",
			handler:    func(http.ResponseWriter, *http.Request) { panic("renderer exploded") },
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "normal response untouched",
			handler:    func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) },
			wantStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RecoverMiddleware(zerolog.Nop())(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages/raw", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusInternalServerError {
				return
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != "internal server error" {
				t.Errorf("error = %q", body["error"])
			}
		})
	}
}

func TestStatusWriter_FirstHeaderWins(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	sw.WriteHeader(http.StatusConflict)
	sw.WriteHeader(http.StatusOK)
	if sw.status != http.StatusConflict {
		t.Errorf("status = %d, want 409", sw.status)
	}
}
