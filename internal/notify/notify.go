// Package notify delivers incident status changes to external systems.
// Delivery is asynchronous and best effort: a full queue drops events and a
// failing sender never affects the incident operation that produced them.
package notify

import (
	"context"
	"errors"

	"github.com/bissquit/incident-orchestrator/internal/domain"
)

// Message is a rendered status change ready for a sender.
type Message struct {
	Subject string
	Body    string
	Event   domain.StatusChangeEvent
}

// Sender delivers messages to one destination.
type Sender interface {
	// Name labels the sender in logs and metrics.
	Name() string
	Send(ctx context.Context, msg Message) error
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
