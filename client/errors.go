package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an API failure into the closed taxonomy surfaced to
// callers. Unauthorized errors are normally absorbed by the refresh flow and
// only escape when the refresh itself fails.
type ErrorKind string

const (
	KindNetwork      ErrorKind = "network"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindValidation   ErrorKind = "validation"
	KindConflict     ErrorKind = "conflict"
	KindServer       ErrorKind = "server"
)

// APIError is the tagged error variant built once at the HTTP boundary.
// Server error payloads of arbitrary shape never propagate past this type.
type APIError struct {
	Kind    ErrorKind
	Message string
	Status  int
	Fields  map[string]string
	Err     error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is by matching on Kind
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewAPIError creates a new APIError
func NewAPIError(kind ErrorKind, message string, err error) *APIError {
	return &APIError{Kind: kind, Message: message, Err: err}
}

var (
	// ErrNoRefreshToken is returned when a refresh is needed but no refresh
	// token is stored; it tears down the session.
	ErrNoRefreshToken = NewAPIError(KindUnauthorized, "no refresh token available", nil)

	// ErrRefreshCanceled is returned to refresh waiters released by a logout
	ErrRefreshCanceled = NewAPIError(KindUnauthorized, "session refresh canceled", nil)
)

// errorBody is the wire shape of backend error payloads
type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// kindFromStatus maps an HTTP status to the closed taxonomy. Unknown client
// errors collapse into validation; anything 5xx is a server failure.
func kindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusConflict:
		return KindConflict
	case status >= 500:
		return KindServer
	default:
		return KindValidation
	}
}

// parseAPIError builds an APIError from a non-2xx response body
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{
		Kind:    kindFromStatus(status),
		Status:  status,
		Message: http.StatusText(status),
	}

	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			apiErr.Message = parsed.Message
		} else if parsed.Error != "" {
			apiErr.Message = parsed.Error
		}
		apiErr.Fields = parsed.Fields
	}

	return apiErr
}

// Error kind checking helpers

// IsNetworkError checks if an error is a network failure (no response)
func IsNetworkError(err error) bool { return isKind(err, KindNetwork) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return isKind(err, KindUnauthorized) }

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool { return isKind(err, KindForbidden) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return isKind(err, KindValidation) }

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool { return isKind(err, KindConflict) }

// IsServerError checks if an error is a 5xx server error
func IsServerError(err error) bool { return isKind(err, KindServer) }

func isKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// FieldErrors returns the field-level messages of a validation error, or nil
func FieldErrors(err error) map[string]string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Fields
	}
	return nil
}
