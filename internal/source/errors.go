package source

import (
	"errors"
	"fmt"
)

// ErrNotFound signals a slice with legitimately no data, e.g. a day before
// the symbol listed. Terminal, never retried.
var ErrNotFound = errors.New("no data for range")

// TransientError wraps failures worth retrying: rate-limit rejections,
// timeouts, connection resets, 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IntegrityError marks a payload that arrived but cannot be trusted: a
// checksum mismatch, a malformed row, a schema violation. Fatal for the
// segment and never cached.
type IntegrityError struct {
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("integrity: %s", e.Reason)
}

func (e *IntegrityError) Unwrap() error { return e.Err }
