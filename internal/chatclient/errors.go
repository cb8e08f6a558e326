// Package chatclient implements the client side of the chatbot API: a
// validated, retried, bounded-time request path and a streaming session that
// consumes progressive events from the reasoning backend.
package chatclient

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories surfaced to callers.
type ErrorKind string

const (
	// KindEmptyMessage rejects blank or whitespace-only input. Never retried.
	KindEmptyMessage ErrorKind = "EMPTY_MESSAGE"
	// KindMessageTooLong rejects input over the length limit. Never retried.
	KindMessageTooLong ErrorKind = "MESSAGE_TOO_LONG"
	// KindValidationError marks a backend rejection (4xx other than 408). Never retried.
	KindValidationError ErrorKind = "VALIDATION_ERROR"
	// KindTimeoutError marks a deadline elapsing before the response or
	// stream start. Retryable.
	KindTimeoutError ErrorKind = "TIMEOUT_ERROR"
	// KindNetworkError marks a transport failure, 503, or any unmapped
	// non-2xx status. Retryable.
	KindNetworkError ErrorKind = "NETWORK_ERROR"
	// KindMaxRetriesExceeded marks a retryable error that persisted past the
	// policy limit. Not retried further.
	KindMaxRetriesExceeded ErrorKind = "MAX_RETRIES_EXCEEDED"
)

// Retryable reports whether an error of this kind may be retried.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeoutError || k == KindNetworkError
}

// ServiceError is the error type raised by Client and StreamSession.
type ServiceError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newServiceError(kind ErrorKind, format string, args ...any) *ServiceError {
	return &ServiceError{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: kind.Retryable(),
	}
}

// AsServiceError unwraps err into a *ServiceError. Unexpected errors are
// wrapped as a retryable NETWORK_ERROR so callers always see the taxonomy.
func AsServiceError(err error) *ServiceError {
	var serr *ServiceError
	if errors.As(err, &serr) {
		return serr
	}
	return newServiceError(KindNetworkError, "unexpected error: %v", err)
}
