// Package errors defines common error types for the application.
package errors

import (
	"errors"
	"fmt"
)

// Error codes for the application.
const (
	CodeUnknown           = "UNKNOWN_ERROR"
	CodeDatabaseError     = "DATABASE_ERROR"
	CodeStorageError      = "STORAGE_ERROR"
	CodeProtocolError     = "PROTOCOL_ERROR"
	CodeContractViolation = "CONTRACT_VIOLATION"
	CodeSessionClosed     = "SESSION_CLOSED"
	CodeExportError       = "EXPORT_ERROR"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeTimeout           = "TIMEOUT_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeConfigError       = "CONFIG_ERROR"
	CodeRateLimited       = "RATE_LIMITED"
)

// AppError represents an application error with a code and message.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError.
func New(code string, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code string, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an AppError.
func Wrap(code string, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error instances.
var (
	ErrDatabaseError     = New(CodeDatabaseError, "database error")
	ErrStorageError      = New(CodeStorageError, "storage error")
	ErrProtocolError     = New(CodeProtocolError, "protocol error")
	ErrContractViolation = New(CodeContractViolation, "event contract violation")
	ErrSessionClosed     = New(CodeSessionClosed, "session closed")
	ErrExportError       = New(CodeExportError, "export error")
	ErrInvalidInput      = New(CodeInvalidInput, "invalid input")
	ErrTimeout           = New(CodeTimeout, "operation timeout")
	ErrNotFound          = New(CodeNotFound, "resource not found")
	ErrConfigError       = New(CodeConfigError, "configuration error")
)

// IsDatabaseError checks if the error is a database error.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabaseError)
}

// IsProtocolError checks if the error came from frame decoding.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocolError)
}

// IsContractViolation checks if the error reports a broken entry/exit pairing.
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContractViolation)
}

// IsSessionClosed checks if the error was returned by a closed session.
func IsSessionClosed(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetErrorMessage extracts the error message from an error.
func GetErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
