// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies application errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation_error"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeError         ErrorType = "processing_error"
	ErrorTypeUnprocessable ErrorType = "unprocessable"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeUnavailable   ErrorType = "unavailable"
)

// AppError is the application error structure
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // user-facing error code
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error chaining
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError creates a processing error
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewUnprocessableError creates an error for requests that parse but cannot
// be carried out, a structurally valid patch that fails to apply for example
func NewUnprocessableError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnprocessable, message, originalError)
}

// NewConflictError creates a conflict error
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, originalError)
}

// NewUnavailableError creates an error for unreachable downstream services
func NewUnavailableError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnavailable, message, originalError)
}

// IsValidationError checks whether err is a validation error
func IsValidationError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeValidation
	}
	return false
}

// IsNotFoundError checks whether err is a not-found error
func IsNotFoundError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeNotFound
	}
	return false
}

// IsUnprocessableError checks whether err is an unprocessable error
func IsUnprocessableError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeUnprocessable
	}
	return false
}

// IsConflictError checks whether err is a conflict error
func IsConflictError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeConflict
	}
	return false
}

// IsTimeoutError checks whether err is a timeout error
func IsTimeoutError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeTimeout
	}
	return false
}

// IsUnavailableError checks whether err is an unavailable error
func IsUnavailableError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeUnavailable
	}
	return false
}

// generateErrorCode derives the user-facing code from the error type
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeUnprocessable:
		return "UNPROCESSABLE"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError wraps an existing error, preserving an AppError's type and code
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
