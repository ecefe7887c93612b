package client

import (
	"errors"
	"fmt"
	"net/http"
)

const codeTokenExpired = "TOKEN_EXPIRED"

// ErrSessionExpired is returned once a refresh has failed and the local
// tokens were cleared. The caller has to log in again.
var ErrSessionExpired = errors.New("session expired, please log in again")

// ErrNotAuthenticated is returned by calls that need tokens when none are held.
var ErrNotAuthenticated = errors.New("not authenticated")

// APIError is a failure envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) expired() bool {
	return e.Status == http.StatusUnauthorized && e.Code == codeTokenExpired
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
