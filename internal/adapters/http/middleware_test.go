package httpadapter

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDMiddlewareReplacesInvalidIDs(t *testing.T) {
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(requestIDFromContext(r.Context())))
	}))

	tests := []struct {
		in     string
		keepIt bool
	}{
		{"req-1", true},
		{"", false},
		{"has space", false},
		{strings.Repeat("a", maxRequestIDLength+1), false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		if tt.in != "" {
			req.Header.Set(requestIDHeader, tt.in)
		}
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)

		got := res.Header().Get(requestIDHeader)
		if got == "" || got != res.Body.String() {
			t.Fatalf("request id %q not propagated: header=%q body=%q", tt.in, got, res.Body.String())
		}
		if (got == tt.in) != tt.keepIt {
			t.Fatalf("request id %q: got %q, keep=%v", tt.in, got, tt.keepIt)
		}
	}
}

func TestEmailIDFromPath(t *testing.T) {
	tests := map[string]string{
		"/v1/emails/abc":         "abc",
		"/v1/emails/abc/process": "abc",
		"/v1/emails/process":     "",
		"/v1/emails":             "",
		"/v1/stats":              "",
		"/v1/emails/abc/def/ghi": "",
	}
	for path, want := range tests {
		if got := emailIDFromPath(path); got != want {
			t.Fatalf("emailIDFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestAccessLogIncludesEmailID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	handler := accessLogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/emails/m-42", nil))

	line := buf.String()
	for _, want := range []string{`"msg":"http_request"`, `"level":"WARN"`, `"status":404`, `"email_id":"m-42"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("access log missing %s: %s", want, line)
		}
	}
}
