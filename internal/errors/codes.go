// Package errors defines the turn-level error codes surfaced to callers.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/hrygo/mindloop/plugin/ai/retry"
)

// ErrorCode represents a specific turn failure.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeLLMUnavailable indicates the generation API stayed unavailable after retries.
	ErrCodeLLMUnavailable ErrorCode = "LLM_UNAVAILABLE"
	// ErrCodeGenerationFailed indicates a permanent generation failure.
	ErrCodeGenerationFailed ErrorCode = "GENERATION_FAILED"
	// ErrCodeContextAssemblyFailed indicates the session or context could not be prepared.
	ErrCodeContextAssemblyFailed ErrorCode = "CONTEXT_ASSEMBLY_FAILED"
	// ErrCodeSessionUnavailable indicates the session store failed.
	ErrCodeSessionUnavailable ErrorCode = "SESSION_UNAVAILABLE"
	// ErrCodeContextCanceled indicates the operation was canceled.
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"
	// ErrCodeTimeout indicates the operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// AIError represents a structured turn error.
type AIError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *AIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AIError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *AIError) WithContext(key string, value any) *AIError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// HTTPStatus maps the code to an HTTP status for API responses.
func (e *AIError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case ErrCodeLLMUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeContextCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *AIError {
	return &AIError{Code: ErrCodeInvalidArgument, Message: msg}
}

// ContextCanceled creates a context canceled error.
func ContextCanceled(cause error) *AIError {
	return &AIError{Code: ErrCodeContextCanceled, Message: "operation canceled", Cause: cause}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *AIError {
	return &AIError{Code: code, Message: msg, Cause: cause}
}

// FromGeneration classifies a generation failure.
func FromGeneration(err error) *AIError {
	var aiErr *AIError
	if stderrors.As(err, &aiErr) {
		return aiErr
	}
	switch {
	case stderrors.Is(err, context.Canceled):
		return ContextCanceled(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrCodeTimeout, "generation timed out")
	case retry.IsRetryable(err):
		return Wrap(err, ErrCodeLLMUnavailable, "generation service unavailable")
	default:
		return Wrap(err, ErrCodeGenerationFailed, "generation failed")
	}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	var aiErr *AIError
	if stderrors.As(err, &aiErr) {
		return aiErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not an AIError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var aiErr *AIError
	if stderrors.As(err, &aiErr) {
		return aiErr.Code
	}
	return defaultCode
}
