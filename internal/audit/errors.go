package audit

import (
	"errors"
	"fmt"
)

// Audit errors.
var (
	ErrInvalidFilter = errors.New("invalid audit filter")
	ErrStorage       = errors.New("audit storage unavailable")
)

// StorageError wraps a ledger read failure, including a missed storage
// deadline. Callers may retry it unchanged.
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

// IsRetryable returns true.
func (e *StorageError) IsRetryable() bool {
	return true
}
