package util

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestWithRequestIDPropagatesIncomingHeader(t *testing.T) {
	const incoming = "req-incoming-123"
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RequestIDFromRequest(r); got != incoming {
			t.Fatalf("unexpected request id in context: got %q want %q", got, incoming)
		}
		if LoggerFromContext(r.Context()) == nil {
			t.Fatalf("expected request logger in context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != incoming {
		t.Fatalf("unexpected response request id: got %q want %q", got, incoming)
	}
}

func TestWithRequestIDGeneratesWhenMissingOrOversized(t *testing.T) {
	for _, incoming := range []string{"", strings.Repeat("x", 500)} {
		var seen string
		handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromRequest(r)
		}))
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		if incoming != "" {
			req.Header.Set("X-Request-Id", incoming)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if _, err := uuid.Parse(seen); err != nil {
			t.Fatalf("expected generated uuid request id, got %q", seen)
		}
		if got := rec.Header().Get("X-Request-Id"); got != seen {
			t.Fatalf("header %q does not match context id %q", got, seen)
		}
	}
}

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	if LoggerFromContext(context.Background()) != slog.Default() {
		t.Fatalf("expected default logger")
	}
}
