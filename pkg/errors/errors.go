// Package errors defines the application error type and the stable error
// codes returned by both services. Codes are part of the API contract:
// callers branch on them to distinguish "log in again" from "something is
// broken".
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Stable error codes.
const (
	// ErrCodeUnauthorized covers bad, missing, or expired bearer
	// credentials. Distinct from session absence.
	ErrCodeUnauthorized = "unauthorized"

	// ErrCodeNoActiveSession means the resolved credential shape has no
	// valid session. Responses carrying it also set requires_login.
	ErrCodeNoActiveSession = "no_active_session"

	// ErrCodeClientSigningRequired means the method needs key material only
	// the client holds; the server cannot complete the signature.
	ErrCodeClientSigningRequired = "client_side_signing_required"

	// ErrCodeInvalidInput covers malformed transaction encodings and
	// malformed ephemeral keys.
	ErrCodeInvalidInput = "invalid_input"

	// ErrCodeDecryptionFailure covers envelope context mismatches and
	// corrupt ciphertext. Always fatal to the request, never retried.
	ErrCodeDecryptionFailure = "decryption_failure"

	// ErrCodeUpstreamAuthority means the external custody authority
	// rejected or errored. Retryable by the caller, not by this core.
	ErrCodeUpstreamAuthority = "upstream_authority_failure"

	// ErrCodeInconsistentState means resolution found two credential shapes
	// simultaneously populated. Surfaced loudly, never resolved by guessing.
	ErrCodeInconsistentState = "inconsistent_state"

	ErrCodeNotFound      = "not_found"
	ErrCodeInternalError = "internal_error"
)

// Predefined errors
var (
	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// Unauthorized creates an unauthorized error with a reason. The reason keeps
// the gate outcomes (missing header, malformed header, expired token, bad
// signature) distinguishable to operators.
func Unauthorized(reason string) *AppError {
	return &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		Detail:     reason,
		StatusCode: http.StatusUnauthorized,
	}
}

// NoActiveSession creates a no-active-session error carrying the resolved
// method name for diagnostics.
func NoActiveSession(method string) *AppError {
	return &AppError{
		Code:       ErrCodeNoActiveSession,
		Message:    "No active signing session",
		Detail:     fmt.Sprintf("signing_method: %s", method),
		StatusCode: http.StatusUnauthorized,
	}
}

// ClientSigningRequired creates an error for methods whose private key
// material never reaches the server.
func ClientSigningRequired(method string) *AppError {
	return &AppError{
		Code:       ErrCodeClientSigningRequired,
		Message:    "Signing must be completed client-side",
		Detail:     fmt.Sprintf("signing_method: %s", method),
		StatusCode: http.StatusBadRequest,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidInput,
		Message:    "Invalid request parameters",
		Detail:     detail,
		StatusCode: http.StatusBadRequest,
	}
}

// DecryptionFailure creates a decryption failure error
func DecryptionFailure(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeDecryptionFailure,
		Message:    "Key material could not be decrypted",
		Detail:     detail,
		StatusCode: http.StatusInternalServerError,
	}
}

// UpstreamAuthority creates an upstream custody-authority error
func UpstreamAuthority(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeUpstreamAuthority,
		Message:    "Custody authority request failed",
		Detail:     detail,
		StatusCode: http.StatusBadGateway,
	}
}

// InconsistentState creates an inconsistent credential state error
func InconsistentState(detail string) *AppError {
	return &AppError{
		Code:       ErrCodeInconsistentState,
		Message:    "Credential record is in an inconsistent state",
		Detail:     detail,
		StatusCode: http.StatusConflict,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
