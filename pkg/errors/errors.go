package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode represents a unique error code. The values double as the
// login-error codes carried back to the login page.
type ErrorCode string

// Login flow error codes
const (
	ErrCodeProviderDenied       ErrorCode = "provider-denied"
	ErrCodeInvalidState         ErrorCode = "invalid-state"
	ErrCodeInvalidTokenResponse ErrorCode = "invalid-token-response"
	ErrCodeMissingToken         ErrorCode = "no-identity-token"
	ErrCodeMalformedToken       ErrorCode = "missing-identity-token"
	ErrCodeBadClaim             ErrorCode = "bad-id-token-claim"
	ErrCodeNoSubjectIdentity    ErrorCode = "no-subject-identity"
	ErrCodeInvalidSignature     ErrorCode = "invalid-id-token-signature"
	ErrCodeInvalidClaim         ErrorCode = "invalid-user-claim"
	ErrCodeUnauthorized         ErrorCode = "unauthorized"
	ErrCodeNoUsername           ErrorCode = "no-username"
	ErrCodeIncompleteClaim      ErrorCode = "incomplete-user-claim"
	ErrCodeCreationDenied       ErrorCode = "cannot-authorize"
	ErrCodeUserCreationFailed   ErrorCode = "failed-user-creation"
	ErrCodeInvalidUser          ErrorCode = "invalid-user"
	ErrCodeBadUserClaimResult   ErrorCode = "bad-user-claim-result"
)

// API client error codes
const (
	ErrCodeUnauthenticated ErrorCode = "unauthenticated"
	ErrCodeRequestFailed   ErrorCode = "request-failed"
)

// Generic error codes
const (
	ErrCodeInternal     ErrorCode = "internal-error"
	ErrCodeInvalidInput ErrorCode = "invalid-input"
)

// providerErrorPrefix prefixes provider supplied error codes, e.g.
// "invalid-user-claim-access_denied".
const providerErrorPrefix = string(ErrCodeInvalidClaim) + "-"

// Error represents a structured error with code, message, and optional details
type Error struct {
	Code    ErrorCode              // Unique error code
	Message string                 // Human-readable error message
	Details map[string]interface{} // Optional additional details
	Err     error                  // Wrapped underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ProviderError carries an error reported by the identity provider inside an
// otherwise well-formed payload. The code is derived from the provider's own
// error code.
func ProviderError(providerCode, message string) *Error {
	if message == "" {
		message = "Error from the IDP"
	}
	return &Error{
		Code:    ErrorCode(providerErrorPrefix + providerCode),
		Message: message,
	}
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsProviderError reports whether err was reported by the identity provider.
func IsProviderError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return strings.HasPrefix(string(e.Code), providerErrorPrefix)
	}
	return false
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
// Returns ErrCodeInternal if the error is not a structured Error
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// GetMessage extracts the human readable message from an error.
func GetMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidInput, ErrCodeInvalidTokenResponse, ErrCodeMissingToken,
		ErrCodeMalformedToken, ErrCodeBadClaim, ErrCodeNoSubjectIdentity,
		ErrCodeInvalidClaim, ErrCodeInvalidState, ErrCodeIncompleteClaim, ErrCodeNoUsername:
		return http.StatusBadRequest

	case ErrCodeUnauthenticated, ErrCodeInvalidSignature, ErrCodeInvalidUser:
		return http.StatusUnauthorized

	case ErrCodeUnauthorized, ErrCodeProviderDenied, ErrCodeCreationDenied:
		return http.StatusForbidden

	case ErrCodeRequestFailed, ErrCodeBadUserClaimResult:
		return http.StatusBadGateway

	default:
		if strings.HasPrefix(string(code), providerErrorPrefix) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}
