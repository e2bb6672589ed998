package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Configuration errors
	ErrConfigParse   ErrorType = "CONFIG_PARSE_ERROR"
	ErrConfigInvalid ErrorType = "CONFIG_INVALID_ERROR"

	// AWS errors
	ErrAWSClient ErrorType = "AWS_CLIENT_ERROR"

	// ErrResourceConflict marks a resource that already exists and belongs to the caller.
	// Provisioners recover from it by reusing the resource.
	ErrResourceConflict ErrorType = "RESOURCE_CONFLICT"
	ErrRemoteCall       ErrorType = "REMOTE_CALL_ERROR"

	// Local filesystem errors
	ErrLocalIO ErrorType = "LOCAL_IO_ERROR"

	// Instance profile errors
	ErrProfile ErrorType = "PROFILE_ERROR"
)

// CustomError represents a custom error with additional context
type CustomError struct {
	Type       ErrorType
	Message    string
	Context    map[string]interface{}
	WrappedErr error
}

// New creates a new custom error
func New(errorType ErrorType, message string, context map[string]interface{}, wrappedErr error) *CustomError {
	return &CustomError{
		Type:       errorType,
		Message:    message,
		Context:    context,
		WrappedErr: wrappedErr,
	}
}

// Error implements the error interface
func (e *CustomError) Error() string {
	if e.WrappedErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.WrappedErr)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error
func (e *CustomError) Unwrap() error {
	return e.WrappedErr
}

// Is checks if the error is of a specific type
func Is(err error, errType ErrorType) bool {
	return KindOf(err) == errType
}

// KindOf returns the type of the outermost CustomError in the chain, or "" if there is none.
func KindOf(err error) ErrorType {
	if err == nil {
		return ""
	}

	var customErr *CustomError
	if stderrors.As(err, &customErr) {
		return customErr.Type
	}

	return ""
}
