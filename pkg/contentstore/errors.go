package contentstore

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrNotFound indicates the content does not exist in the backend
	ErrNotFound = errors.New("content not found")

	// ErrConfiguration indicates the store, placement or driver is misconfigured
	ErrConfiguration = errors.New("configuration error")

	// ErrAccess indicates the backend rejected the operation
	ErrAccess = errors.New("access denied")

	// ErrBucketNotSet indicates no bucket could be resolved for an object-storage location
	ErrBucketNotSet = fmt.Errorf("%w: bucket not set", ErrAccess)
)

// StorageError represents a transport or backend failure while talking to a driver
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError builds an error wrapping ErrConfiguration.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// IsSurfaced reports whether err belongs to the classes the Store always
// returns to callers instead of logging.
func IsSurfaced(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrAccess)
}
