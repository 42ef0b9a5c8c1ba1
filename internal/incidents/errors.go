package incidents

import (
	"errors"
	"fmt"
)

// Orchestrator errors. Everything except ErrStorage means the input must change
// before a retry can succeed.
var (
	ErrValidation         = errors.New("validation error")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrResolutionRequired = errors.New("resolution code required")
	ErrRunbookReplacement = errors.New("runbook with completed steps cannot be replaced")
	ErrStepOrder          = errors.New("runbook step completed out of order")
	ErrNotFound           = errors.New("not found")
	ErrStorage            = errors.New("storage unavailable")

	// ErrVersionConflict is returned by stores when a Put loses a
	// compare-and-swap on the incident version.
	ErrVersionConflict = errors.New("incident version conflict")
)

var ruleErrors = []error{
	ErrValidation,
	ErrInvalidTransition,
	ErrResolutionRequired,
	ErrRunbookReplacement,
	ErrStepOrder,
	ErrNotFound,
	ErrVersionConflict,
}

// StorageError wraps a persistence failure. It is the only retryable kind.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStorage) match.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// IsRetryable returns true; callers may retry with backoff.
func (e *StorageError) IsRetryable() bool {
	return true
}

// IsRetryable reports whether err is worth retrying unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

// asStorageError passes rule violations through and wraps everything else,
// including context deadline errors, as a StorageError.
func asStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, rule := range ruleErrors {
		if errors.Is(err, rule) {
			return err
		}
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// errorKind is the metrics label for an operation result.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrResolutionRequired):
		return "resolution_required"
	case errors.Is(err, ErrRunbookReplacement):
		return "runbook_replacement"
	case errors.Is(err, ErrStepOrder):
		return "step_order"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrStorage):
		return "storage"
	}
	return "error"
}
