package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureDefaultLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestWithRequestLogRecordsRouteAndRequestID(t *testing.T) {
	buf := captureDefaultLogger(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chats/{bookId}/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"code":"completion_failed"}`))
	})
	h := WithRequestID(WithRequestLog("chat", nil, mux))

	req := httptest.NewRequest(http.MethodPost, "/chats/b-42/messages", nil)
	req.Header.Set("X-Request-Id", "turn-1")
	req.RemoteAddr = "203.0.113.9:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"msg":        "http_request",
		"level":      "WARN",
		"service":    "chat",
		"path":       "/chats/b-42/messages",
		"route":      "POST /chats/{bookId}/messages",
		"request_id": "turn-1",
		"client_ip":  "203.0.113.9",
		"status":     float64(http.StatusBadGateway),
		"bytes":      float64(len(`{"code":"completion_failed"}`)),
	}
	for k, v := range want {
		if line[k] != v {
			t.Fatalf("log %s = %v, want %v (line %v)", k, line[k], v, line)
		}
	}
}

func TestWithRequestLogDefaultsStatus(t *testing.T) {
	buf := captureDefaultLogger(t)
	h := WithRequestID(WithRequestLog("", nil, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["status"] != float64(http.StatusOK) || line["service"] != "unknown" || line["level"] != "INFO" {
		t.Fatalf("unexpected log line %v", line)
	}
	if _, ok := line["route"]; ok {
		t.Fatalf("route should be absent without a mux: %v", line)
	}
}
