package errors

import (
	"errors"
	"fmt"
)

const (
	HttpInternalError    = "internal_error"
	HttpInvalidJsonError = "invalid_json"
	HttpInvalidQuery     = "invalid_query"
	HttpQueryTimeout     = "query_timeout"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// ErrQueryTimeout marks an aggregate query that exceeded its server-side
// budget. The caller may still receive the partial result accumulated so far;
// the error is what distinguishes it from a genuine zero result.
var ErrQueryTimeout = errors.New("query exceeded time budget")

// ValidationError marks a malformed event. Fatal for that event, never
// retried: the event is dropped and logged without mutating state.
type ValidationError struct {
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %v", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// NewValidation wraps a structural validation failure.
func NewValidation(reason error) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientError marks a store failure that is expected to clear on retry
// (network, timeout, overload). The consumer retries these with backoff;
// exhausting the retry budget halts the partition instead of dropping data.
type TransientError struct {
	Op    string
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store failure in %s: %v", e.Op, e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// NewTransient wraps a retryable store failure.
func NewTransient(op string, cause error) error {
	return &TransientError{Op: op, Cause: cause}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
