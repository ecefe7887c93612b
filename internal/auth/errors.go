package auth

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrAccountDeactivated      = errors.New("account is deactivated")
	ErrAccountLocked           = errors.New("account is temporarily locked")
	ErrUserExists              = errors.New("user already exists")
	ErrUserNotFound            = errors.New("user not found")
	ErrRefreshTokenRequired    = errors.New("refresh token required")
	ErrInvalidRefreshToken     = errors.New("invalid refresh token")
	ErrInvalidCurrentPassword  = errors.New("current password is incorrect")
	ErrNoToken                 = errors.New("no token provided")
	ErrTokenMalformed          = errors.New("invalid token")
	ErrTokenExpired            = errors.New("token expired")
	ErrAuthRequired            = errors.New("authentication required")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrValidation              = errors.New("validation failed")
)

// Store-level errors.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrDuplicateIdentity = errors.New("duplicate identity")
	ErrVersionConflict   = errors.New("account version conflict")
)

type AccountLockedError struct {
	Until time.Time
	Now   time.Time
}

func (e AccountLockedError) Error() string {
	return fmt.Sprintf("account is temporarily locked, try again in %d minutes", e.RemainingMinutes())
}

func (e AccountLockedError) Unwrap() error { return ErrAccountLocked }

// RemainingMinutes rounds up so a caller is never told "0 minutes" while
// still locked out.
func (e AccountLockedError) RemainingMinutes() int {
	left := e.Until.Sub(e.Now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Minutes()))
}

type InvalidCredentialsError struct {
	AttemptsLeft int
}

func (e InvalidCredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials, %d attempts left", e.AttemptsLeft)
}

func (e InvalidCredentialsError) Unwrap() error { return ErrInvalidCredentials }

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Fields[0].Field, e.Fields[0].Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryConflict       Category = "conflict"
	CategoryLockout        Category = "lockout"
	CategoryInternal       Category = "internal"
)

// CategoryOf places err in the error taxonomy. Unknown errors are internal.
func CategoryOf(err error) Category {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidCurrentPassword):
		return CategoryValidation
	case errors.Is(err, ErrAccountLocked):
		return CategoryLockout
	case errors.Is(err, ErrUserExists), errors.Is(err, ErrDuplicateIdentity):
		return CategoryConflict
	case errors.Is(err, ErrInsufficientPermissions):
		return CategoryAuthorization
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountDeactivated),
		errors.Is(err, ErrRefreshTokenRequired),
		errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrNoToken),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrAuthRequired),
		errors.Is(err, ErrUserNotFound):
		return CategoryAuthentication
	default:
		return CategoryInternal
	}
}
