package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired is returned for 401 responses and expired credentials.
	ErrAuthRequired = errors.New("authentication required")
	// ErrSessionLost means the server has no matching active session.
	ErrSessionLost = errors.New("no active session on server")
)

// NetworkError wraps transport and 5xx failures of a gateway round trip.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s failed with status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is a NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
