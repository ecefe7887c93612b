package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info")

	logger.Debug("hidden", nil)
	logger.Info("login_succeeded", map[string]any{"account_id": "a1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "login_succeeded", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "a1", entry["account_id"])
}

func TestRequestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "debug")
	metrics := NewMetrics()

	handler := RequestLoggingMiddleware(logger, metrics, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"ip":"203.0.113.5"`)
	assert.Contains(t, scrape(t, metrics), `authcore_http_requests_total{method="GET",status="418"} 1`)
}

func TestRecoverMiddleware(t *testing.T) {
	var buf bytes.Buffer
	handler := RecoverMiddleware(NewLoggerTo(&buf, "info"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.Contains(t, buf.String(), "panic_recovered")

	aborting := RecoverMiddleware(NewLoggerTo(&buf, "info"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		aborting.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestMetricsHandler(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordAuthEvent("login", "invalid_credentials")
	metrics.RecordAuthEvent("login", "invalid_credentials")
	metrics.RecordSweep(3)

	body := scrape(t, metrics)
	assert.Contains(t, body, `authcore_auth_events_total{event="login",outcome="invalid_credentials"} 2`)
	assert.Contains(t, body, "authcore_swept_sessions_total 3")
	assert.Contains(t, body, "go_goroutines")
}

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestScrubEventRedactsCredentials(t *testing.T) {
	event := &sentry.Event{Request: &sentry.Request{
		Data:    `{"password":"Secret1!"}`,
		Cookies: "sid=1",
		Headers: map[string]string{"authorization": "Bearer abc", "User-Agent": "curl"},
	}}

	scrubbed := scrubEvent(event, nil)
	assert.Empty(t, scrubbed.Request.Data)
	assert.Empty(t, scrubbed.Request.Cookies)
	assert.Equal(t, "[redacted]", scrubbed.Request.Headers["authorization"])
	assert.Equal(t, "curl", scrubbed.Request.Headers["User-Agent"])

	empty := &sentry.Event{}
	assert.Same(t, empty, scrubEvent(empty, nil))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1:1234", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(req))
}
