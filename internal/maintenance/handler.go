package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"auth-session-core/internal/observability"
)

type Sweeper interface {
	SweepExpiredSessions(ctx context.Context, limit int) (int, error)
}

// SweepHandler prunes expired refresh sessions when called by the scheduler
// with the cron secret as bearer token.
type SweepHandler struct {
	sweeper    Sweeper
	logger     *observability.Logger
	metrics    *observability.Metrics
	cronSecret string
	batchSize  int
}

func NewSweepHandler(
	sweeper Sweeper,
	logger *observability.Logger,
	metrics *observability.Metrics,
	cronSecret string,
	batchSize int,
) *SweepHandler {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &SweepHandler{
		sweeper:    sweeper,
		logger:     logger,
		metrics:    metrics,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
	}
}

func (h *SweepHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, false, "ROUTE_NOT_FOUND", "not found", nil)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, false, "AUTH_REQUIRED", "unauthorized", nil)
		return
	}

	removed, err := h.sweeper.SweepExpiredSessions(r.Context(), h.batchSize)
	if err != nil {
		h.logger.Error("session_sweep_failed", map[string]any{"error": err.Error(), "removed": removed})
		writeJSON(w, http.StatusInternalServerError, false, "INTERNAL_ERROR", "sweep failed", nil)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordSweep(removed)
	}
	h.logger.Info("session_sweep_completed", map[string]any{"removed_sessions": removed})

	writeJSON(w, http.StatusOK, true, "SWEEP_COMPLETED", "expired sessions removed", map[string]any{
		"removedSessions": removed,
	})
}

func writeJSON(w http.ResponseWriter, status int, success bool, code, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":   success,
		"message":   message,
		"data":      data,
		"code":      code,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
