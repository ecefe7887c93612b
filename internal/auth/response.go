package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"auth-session-core/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

// Envelope is the body of every response on the auth surface.
type Envelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	Code      string `json:"code"`
	Timestamp string `json:"timestamp"`
}

type failure struct {
	status  int
	code    string
	message string
}

func WriteSuccess(w http.ResponseWriter, status int, code, message string, data any) {
	writeJSON(w, status, Envelope{
		Success:   true,
		Message:   message,
		Data:      data,
		Code:      code,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func WriteFailure(w http.ResponseWriter, status int, code, message string, data any) {
	writeJSON(w, status, Envelope{
		Success:   false,
		Message:   message,
		Data:      data,
		Code:      code,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// WriteError maps err onto the fixed status and code pairs. Unknown errors
// are reported to Sentry and answered with a generic message.
func WriteError(w http.ResponseWriter, err error) {
	f, data := describeError(err)
	if f.status == http.StatusInternalServerError {
		sentry.CaptureException(err)
	}

	var locked AccountLockedError
	if errors.As(err, &locked) {
		retryAfter := int(locked.Until.Sub(locked.Now).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	WriteFailure(w, f.status, f.code, f.message, data)
}

func describeError(err error) (failure, any) {
	var validation *ValidationError
	var locked AccountLockedError
	var badCredentials InvalidCredentialsError

	switch {
	case errors.As(err, &validation):
		return failure{http.StatusBadRequest, "VALIDATION_ERROR", "validation failed"}, map[string]any{"errors": validation.Fields}
	case errors.As(err, &locked):
		return failure{http.StatusLocked, "ACCOUNT_LOCKED", locked.Error()}, nil
	case errors.As(err, &badCredentials):
		return failure{http.StatusUnauthorized, "INVALID_CREDENTIALS", badCredentials.Error()}, nil
	case errors.Is(err, ErrInvalidCredentials):
		return failure{http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password"}, nil
	case errors.Is(err, ErrAccountDeactivated):
		return failure{http.StatusUnauthorized, "ACCOUNT_DEACTIVATED", "account is deactivated"}, nil
	case errors.Is(err, ErrAccountLocked):
		return failure{http.StatusLocked, "ACCOUNT_LOCKED", "account is temporarily locked"}, nil
	case errors.Is(err, ErrUserExists):
		return failure{http.StatusConflict, "USER_EXISTS", "user already exists with this email"}, nil
	case errors.Is(err, ErrUserNotFound):
		return failure{http.StatusUnauthorized, "USER_NOT_FOUND", "user not found"}, nil
	case errors.Is(err, ErrRefreshTokenRequired):
		return failure{http.StatusUnauthorized, "REFRESH_TOKEN_REQUIRED", "refresh token is required"}, nil
	case errors.Is(err, ErrInvalidRefreshToken):
		return failure{http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "invalid or expired refresh token"}, nil
	case errors.Is(err, ErrInvalidCurrentPassword):
		return failure{http.StatusBadRequest, "INVALID_CURRENT_PASSWORD", "current password is incorrect"}, nil
	case errors.Is(err, ErrNoToken):
		return failure{http.StatusUnauthorized, "NO_TOKEN", "access denied, no token provided"}, nil
	case errors.Is(err, ErrTokenExpired):
		return failure{http.StatusUnauthorized, "TOKEN_EXPIRED", "access token expired"}, nil
	case errors.Is(err, ErrTokenMalformed):
		return failure{http.StatusUnauthorized, "INVALID_TOKEN", "invalid token"}, nil
	case errors.Is(err, ErrAuthRequired):
		return failure{http.StatusUnauthorized, "AUTH_REQUIRED", "authentication required"}, nil
	case errors.Is(err, ErrInsufficientPermissions):
		return failure{http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "insufficient permissions"}, nil
	default:
		return failure{http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"}, nil
	}
}

// decodeJSON reads a bounded body and rejects unknown fields. An empty body
// decodes to the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		WriteFailure(w, http.StatusBadRequest, "INVALID_JSON", "invalid json body", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func clientInfo(r *http.Request) ClientInfo {
	userAgent := strings.TrimSpace(r.UserAgent())
	if userAgent == "" {
		userAgent = "Unknown"
	}
	return ClientInfo{UserAgent: userAgent, IPAddress: observability.ClientIP(r)}
}
