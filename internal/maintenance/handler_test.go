package maintenance

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"auth-session-core/internal/observability"
)

type stubSweeper struct {
	removed int
	err     error
	limit   int
}

func (s *stubSweeper) SweepExpiredSessions(_ context.Context, limit int) (int, error) {
	s.limit = limit
	return s.removed, s.err
}

func serve(h *SweepHandler, method, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/internal/maintenance/sweep", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestSweepHandler(t *testing.T) {
	var logs bytes.Buffer
	logger := observability.NewLoggerTo(&logs, "info")
	sweeper := &stubSweeper{removed: 4}
	h := NewSweepHandler(sweeper, logger, observability.NewMetrics(), "cron-secret", 0)

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPost, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPost, "Bearer wrong").Code)

	rec := serve(h, http.MethodGet, "Bearer cron-secret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removedSessions":4`)
	assert.Contains(t, rec.Body.String(), "SWEEP_COMPLETED")
	assert.Equal(t, 500, sweeper.limit)
	assert.Contains(t, logs.String(), "session_sweep_completed")

	sweeper.err = errors.New("store down")
	rec = serve(h, http.MethodPost, "Bearer cron-secret")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, logs.String(), "session_sweep_failed")
}

func TestSweepHandlerDisabledWithoutSecret(t *testing.T) {
	h := NewSweepHandler(&stubSweeper{}, observability.NewLoggerTo(&bytes.Buffer{}, "info"), nil, "  ", 10)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodPost, "Bearer ").Code)
}
