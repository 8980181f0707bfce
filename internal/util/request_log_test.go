package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	h := WithRequestID(WithRequestLog("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "http_request" || entry["service"] != "api" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry["status"] != float64(http.StatusTeapot) || entry["bytes"] != float64(15) {
		t.Fatalf("unexpected status/bytes: %v", entry)
	}
	if entry["request_id"] != "req-1" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
}
