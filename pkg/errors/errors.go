package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies application errors for transport-level mapping.
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeConfigInvalid  ErrorCode = "CONFIG_VALIDATION"
	CodeCouncilError   ErrorCode = "COUNCIL_ERROR"
	CodeStorageUnavail ErrorCode = "STORAGE_UNAVAILABLE"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError carries a code, a safe message and an optional wrapped cause.
// The message is suitable for clients; the cause is for server-side logs only.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError creates a request-validation error.
func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

// NewNotFoundError creates a missing-resource error.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewConfigValidationError creates an error for roster updates that reference
// models the backend does not know.
func NewConfigValidationError(message string) *AppError {
	return &AppError{Code: CodeConfigInvalid, Message: message}
}

// NewCouncilError creates an error for deliberation runs that produced no
// usable result (empty roster, all members failed).
func NewCouncilError(message string) *AppError {
	return &AppError{Code: CodeCouncilError, Message: message}
}

// NewStorageError creates an error for conversation-store failures.
func NewStorageError(message string, cause error) *AppError {
	return &AppError{Code: CodeStorageUnavail, Message: message, Err: cause}
}

// NewInternalError creates a generic internal error.
func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

// NewInternalErrorWithCause creates an internal error wrapping its cause.
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

func codeOf(err error) (ErrorCode, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}

// IsNotFound reports whether err is a missing-resource error.
func IsNotFound(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeNotFound
}

// IsInvalidInput reports whether err is a request-validation error.
func IsInvalidInput(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeInvalidInput
}

// IsCouncilError reports whether err is a failed deliberation run.
func IsCouncilError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeCouncilError
}

// IsConfigValidation reports whether err is a roster-validation failure.
func IsConfigValidation(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeConfigInvalid
}
