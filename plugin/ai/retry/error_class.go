// Package retry provides error classification and an exponential backoff
// policy for calls to external services (generation API, memory service).
// Errors are categorized into transient (retryable), permanent (non-retryable)
// and canceled types.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrorClass represents the category of error for retry decisions.
type ErrorClass int

const (
	// ErrorClassTransient indicates a temporary error that should be retried.
	// Examples: 429/5xx responses, network timeout, connection reset
	ErrorClassTransient ErrorClass = iota

	// ErrorClassPermanent indicates a non-retryable error.
	// Examples: 4xx other than 429, malformed response
	ErrorClassPermanent

	// ErrorClassCanceled indicates the caller gave up. Never retried.
	ErrorClassCanceled
)

// String returns the string representation of ErrorClass.
func (e ErrorClass) String() string {
	switch e {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassPermanent:
		return "permanent"
	case ErrorClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// transientStatuses are the HTTP statuses worth another attempt.
var transientStatuses = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// StatusError is implemented by errors that carry an HTTP status code.
type StatusError interface {
	error
	StatusCode() int
}

// HTTPError is a plain HTTP failure returned by hand-written service clients.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Status)
	}
	return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
}

// StatusCode implements StatusError.
func (e *HTTPError) StatusCode() int {
	return e.Status
}

// PermanentError marks a failure that no retry can fix, such as a response
// body that does not decode.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so ClassifyError reports it as permanent.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// ClassifiedError wraps an error with its classification.
type ClassifiedError struct {
	Class    ErrorClass
	Original error
	Status   int // HTTP status when known, 0 otherwise
}

// Error returns a formatted error message.
func (c *ClassifiedError) Error() string {
	if c.Original == nil {
		return fmt.Sprintf("classified error: class=%s", c.Class)
	}
	return fmt.Sprintf("%s: %v", c.Class, c.Original)
}

// Unwrap returns the original error for errors.Is/As.
func (c *ClassifiedError) Unwrap() error {
	return c.Original
}

// IsTransient returns true if the error is temporary and should be retried.
func (c *ClassifiedError) IsTransient() bool {
	return c.Class == ErrorClassTransient
}

// IsPermanent returns true if the error is non-retryable.
func (c *ClassifiedError) IsPermanent() bool {
	return c.Class == ErrorClassPermanent
}

// IsCanceled returns true if the error came from caller cancellation.
func (c *ClassifiedError) IsCanceled() bool {
	return c.Class == ErrorClassCanceled
}

// ClassifyError analyzes an error and determines its class.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	// 1. Cancellation is its own termination path.
	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Class: ErrorClassCanceled, Original: err}
	}

	// 2. Explicitly permanent, regardless of what the message looks like.
	var permErr *PermanentError
	if errors.As(err, &permErr) {
		return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
	}

	// 3. HTTP status carried by the error.
	if status := StatusOf(err); status != 0 {
		class := ErrorClassPermanent
		if transientStatuses[status] {
			class = ErrorClassTransient
		}
		return &ClassifiedError{Class: class, Original: err, Status: status}
	}

	// 4. Timeout (signal abort) and transport failures.
	if errors.Is(err, context.DeadlineExceeded) || isNetworkError(err) || isTimeoutError(err) {
		return &ClassifiedError{Class: ErrorClassTransient, Original: err}
	}

	// Default to permanent for unknown errors (fail safe)
	return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
}

// StatusOf extracts an HTTP status code from err, or 0.
func StatusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode
	}
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode()
	}
	return 0
}

// isNetworkError checks if an error is a low-level transport failure.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"network is unreachable",
		"no such host",
		"temporary failure",
		"dial tcp",
		"unexpected eof",
		"connection lost",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}

// isTimeoutError checks if an error message describes a timeout.
func isTimeoutError(err error) bool {
	errMsg := strings.ToLower(err.Error())
	timeoutPatterns := []string{
		"timeout",
		"deadline exceeded",
		"i/o timeout",
		"operation timed out",
		"aborted",
	}
	for _, pattern := range timeoutPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err is transient, ignoring any attempt budget.
func IsRetryable(err error) bool {
	classified := ClassifyError(err)
	return classified != nil && classified.IsTransient()
}
