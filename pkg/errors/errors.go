package errors

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Status  int                    `json:"status"`
	Details map[string]interface{} `json:"details,omitempty"`
	// RetryAfter is surfaced as the Retry-After header when positive.
	RetryAfter time.Duration `json:"-"`
	Err        error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so that clones of a predefined
// error satisfy errors.Is against the original.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrMalformedToken     = New("MALFORMED_TOKEN", http.StatusUnauthorized, "malformed token")
	ErrTokenInvalidated   = New("TOKEN_INVALIDATED", http.StatusUnauthorized, "token has been invalidated")
	ErrSessionNotFound    = New("SESSION_NOT_FOUND", http.StatusUnauthorized, "no valid session found")
	ErrSessionKeyMismatch = New("SESSION_KEY_MISMATCH", http.StatusUnauthorized, "session key mismatch")
	ErrCooldownActive     = New("COOLDOWN_ACTIVE", http.StatusTooManyRequests, "cooldown in effect, please try again later")
	ErrParallelAttempt    = New("PARALLEL_ATTEMPT", http.StatusConflict, "only one parallel attempt allowed")
	ErrInvalidAPIKey      = New("INVALID_API_KEY", http.StatusUnauthorized, "invalid api key")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithRetryAfter returns a copy of err that asks the client to wait.
func WithRetryAfter(err *Error, wait time.Duration) *Error {
	clone := Clone(err, "")
	if clone == nil {
		return nil
	}
	clone.RetryAfter = wait
	details := make(map[string]interface{}, len(err.Details)+1)
	for k, v := range err.Details {
		details[k] = v
	}
	details["retry_after_seconds"] = int64(math.Ceil(wait.Seconds()))
	clone.Details = details
	return clone
}

// Cooldown builds a COOLDOWN_ACTIVE error carrying the remaining wait.
func Cooldown(wait time.Duration) *Error {
	seconds := int64(math.Ceil(wait.Seconds()))
	return WithRetryAfter(Clone(ErrCooldownActive, fmt.Sprintf("cooldown in effect, please try again in %ds", seconds)), wait)
}

// IsClientError reports whether err maps to a 4xx response.
func IsClientError(err error) bool {
	appErr := FromError(err)
	return appErr != nil && appErr.Status >= 400 && appErr.Status < 500
}
