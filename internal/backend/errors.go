package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend errors. Typed errors below wrap one of these so callers can use
// errors.Is.
var (
	// ErrConfig is wrapped by every *ConfigError.
	ErrConfig = errors.New("backend: configuration error")
	// ErrInit is wrapped by every *InitError.
	ErrInit = errors.New("backend: initialization error")
	// ErrOperation is wrapped by every *OperationError.
	ErrOperation = errors.New("backend: operation failed")

	// ErrEntryExists is returned when an entry already exists.
	ErrEntryExists = errors.New("backend: entry already exists")
	// ErrNoSuchEntry is returned when the target entry does not exist.
	ErrNoSuchEntry = errors.New("backend: no such entry")
	// ErrNoParent is returned when the parent of a new entry does not exist.
	ErrNoParent = errors.New("backend: parent entry does not exist")
	// ErrNotAllowedOnNonLeaf is returned when deleting an entry with children.
	ErrNotAllowedOnNonLeaf = errors.New("backend: operation not allowed on non-leaf entry")
	// ErrReadOnly is returned when the writability mode rejects a write.
	ErrReadOnly = errors.New("backend: backend is not writable")
	// ErrNotServed is returned when a DN lies outside the backend's base DNs.
	ErrNotServed = errors.New("backend: entry is not served by this backend")
	// ErrInvalidDN is returned when a DN or RDN cannot be parsed.
	ErrInvalidDN = errors.New("backend: invalid DN")
	// ErrSizeLimitExceeded is returned when a search reaches its size limit.
	ErrSizeLimitExceeded = errors.New("backend: size limit exceeded")
	// ErrStorage is returned when the storage engine fails.
	ErrStorage = errors.New("backend: storage error")

	// ErrCanceled is returned when a context is canceled mid-operation.
	ErrCanceled = errors.New("backend: operation canceled")
	// ErrUnsupported is wrapped by every *UnsupportedError.
	ErrUnsupported = errors.New("backend: operation not supported")

	// ErrNotConfigured is returned by operations that need a configuration.
	ErrNotConfigured = errors.New("backend: backend is not configured")
	// ErrNotOpen is returned by entry operations on a backend that is not open.
	ErrNotOpen = errors.New("backend: backend is not open")
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("backend: backend is closed")
)

// ConfigError reports a rejected configuration. The backend's state is left
// unchanged and the caller may retry with a corrected configuration.
type ConfigError struct {
	BackendID string
	Errs      []error
}

func (e *ConfigError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("backend %s: configuration error: %s", e.BackendID, strings.Join(msgs, "; "))
}

func (e *ConfigError) Unwrap() []error {
	return append([]error{ErrConfig}, e.Errs...)
}

// InitError reports a failure to open the backend's store. The backend is
// unusable afterwards.
type InitError struct {
	BackendID string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("backend %s: initialization failed: %v", e.BackendID, e.Err)
}

func (e *InitError) Unwrap() []error {
	return []error{ErrInit, e.Err}
}

// OperationError reports a failed entry operation. Kind is one of the entry
// sentinels (ErrEntryExists, ErrNoSuchEntry, ...).
type OperationError struct {
	Op   string
	DN   string
	Kind error
	Err  error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("backend: %s %q: %v", e.Op, e.DN, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OperationError) Unwrap() []error {
	errs := []error{ErrOperation, e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// UnsupportedError is returned by administrative operations the backend
// lacks the capability for.
type UnsupportedError struct {
	BackendID  string
	Capability Capability
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("backend %s: %s is not supported", e.BackendID, e.Capability)
}

func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupported
}

func opError(op, d string, kind, err error) error {
	return &OperationError{Op: op, DN: d, Kind: kind, Err: err}
}

// canceled maps context errors to ErrCanceled and leaves others alone.
func canceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return err
}
