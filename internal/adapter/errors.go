package adapter

import (
	"errors"
	"fmt"
)

// Adapter errors
var (
	// ErrAdapterUnavailable is matched by every *AdapterUnavailableError
	ErrAdapterUnavailable = errors.New("adapter unavailable")
	// ErrAdapterClosed is returned by operations on a closed adapter
	ErrAdapterClosed = errors.New("adapter closed")
)

// AdapterUnavailableError reports that the native scanner could not be armed
// (permission denied, radio off, unsupported backend).
//
//nolint:revive // AdapterUnavailableError is intentional for clarity as adapter.AdapterUnavailableError
type AdapterUnavailableError struct {
	Adapter string
	Err     error
}

func (e *AdapterUnavailableError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrAdapterUnavailable, e.Adapter)
	}
	return fmt.Sprintf("%s: %s: %v", ErrAdapterUnavailable, e.Adapter, e.Err)
}

// Is allows errors.Is(err, ErrAdapterUnavailable)
func (e *AdapterUnavailableError) Is(target error) bool {
	return target == ErrAdapterUnavailable
}

// Unwrap exposes the platform error
func (e *AdapterUnavailableError) Unwrap() error {
	return e.Err
}
